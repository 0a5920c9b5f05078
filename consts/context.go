package consts

// ContextKey is a custom type for context keys to avoid collisions between packages.
type ContextKey string

const (
	// RequestIDKey carries the identifier the HTTP API assigns to each
	// request, so that session logs can be correlated with access logs.
	RequestIDKey = ContextKey("request_id")
)
