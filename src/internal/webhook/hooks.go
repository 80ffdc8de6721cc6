package webhook

import "context"

// Hooks lets a host application observe and transform deliveries
// without the Dispatcher knowing anything about plugins or a runtime
// reflection layer (§9). A nil Hooks passed to WithHooks, or a Hooks
// whose BeforeSend returns data unchanged and whose AfterSend does
// nothing, behaves as if no hook registry were present.
type Hooks interface {
	// BeforeSend may transform the payload data before it is sent.
	BeforeSend(ctx context.Context, job DeliveryJob, data interface{}) interface{}
	// AfterSend observes the completed attempt; it cannot affect delivery.
	AfterSend(ctx context.Context, job DeliveryJob, result AttemptResult)
}

// NoopHooks passes data through unchanged and observes nothing.
type NoopHooks struct{}

func (NoopHooks) BeforeSend(_ context.Context, _ DeliveryJob, data interface{}) interface{} {
	return data
}
func (NoopHooks) AfterSend(context.Context, DeliveryJob, AttemptResult) {}
