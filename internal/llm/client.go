package llm

import "context"

// Client is the interface every reasoning provider implements.
type Client interface {
	// Complete sends a single reasoning request. The call is bounded by
	// ctx; callers attach per-purpose deadlines (short for routing,
	// longer for generation).
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Ping checks whether the provider is reachable.
	Ping(ctx context.Context) error
}
