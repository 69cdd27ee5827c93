// Package presigned provides HMAC-signed, time-limited object URLs for blob
// backends that cannot presign natively.
//
// S3 hands out its own presigned URLs. The filesystem and memory backends
// instead sign a path under this service, and Handlers serves that path by
// streaming to or from the backend once the signature checks out.
//
// # Signing
//
//	signer := presigned.New(
//	    presigned.WithSecretKey(secret),
//	    presigned.WithBaseURL("http://localhost:8080"),
//	)
//	url, err := signer.ObjectURL("PUT", "aB3dE5fG7h/notes.txt", url.Values{"content_type": {"text/plain"}}, 5*time.Minute)
//
// # Serving
//
//	h := presigned.NewHandlers(store, signer)
//	h.Mount(router) // PUT and GET /blobs/*
//
// The payload is METHOD|PATH|EXPIRES, with the encoded extra query parameters
// appended when present. Every instance behind a load balancer must share the
// same secret.
package presigned
