package ephemeral

import "context"

// NoopPublisher is a no-operation implementation of EventPublisher
// Useful when no live viewers are wired, for example in batch tools and tests
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-operation publisher
func NewNoopPublisher() EventPublisher {
	return &NoopPublisher{}
}

// Publish does nothing and returns nil
func (n *NoopPublisher) Publish(ctx context.Context, event Event) error {
	return nil
}

// NoopMetrics is a no-operation implementation of Metrics
type NoopMetrics struct{}

// NewNoopMetrics creates a new no-operation metrics sink
func NewNoopMetrics() Metrics {
	return &NoopMetrics{}
}

func (*NoopMetrics) HubCreated() {}
func (*NoopMetrics) IDCollision() {}
func (*NoopMetrics) CreationExhausted() {}
func (*NoopMetrics) FileUploaded(int64) {}
func (*NoopMetrics) OrphansReclaimed(int) {}
