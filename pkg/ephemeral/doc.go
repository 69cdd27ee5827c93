// Package ephemeral provides the hub lifecycle engine behind a time-bounded
// shared workspace service.
//
// A hub is an anonymous workspace identified by a short opaque ID. It holds a
// text bin and a manifest of uploaded files, and it disappears for good once
// its TTL elapses. The package exposes a single Service interface that
// allocates hub identities, coordinates hub metadata held in a MetadataStore
// with file payloads held in a BlobStore, and emits change events through an
// EventPublisher so that live viewers of the same hub can follow along.
//
// Expiry
//
// The MetadataStore's native expiry is the only source of truth for whether a
// hub is alive. The engine never caches hub existence in process memory and
// never schedules expiry itself, which keeps every server instance stateless.
// A hub that never existed and a hub that has expired are reported with the
// same ErrHubNotFound.
//
// Implementations of metadata stores (Redis, memory) and blob stores (S3,
// filesystem, memory) live under subpackages.
package ephemeral
