package logger

import "context"

// contextKey is a private type for context keys to avoid collisions with
// other packages' use of context.Context.
type contextKey struct{}

var logContextKey = contextKey{}

// Context carries request/connection-scoped fields that DebugCtx/InfoCtx/
// WarnCtx attach to every log line automatically: which adapter, which
// bearer (device address) and which opcode a log statement concerns.
type Context struct {
	DevID   int    // mgmt adapter index, or -1 if not adapter-scoped
	Address string // peer Bluetooth address, if connection-scoped
	Opcode  string // ATT/mgmt opcode name, if frame-scoped
}

// WithContext attaches lc to ctx.
func WithContext(ctx context.Context, lc *Context) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the Context attached to ctx, or nil.
func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*Context)
	return lc
}

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}
	out := make([]any, 0, len(args)+6)
	if lc.DevID >= 0 {
		out = append(out, "dev_id", lc.DevID)
	}
	if lc.Address != "" {
		out = append(out, "address", lc.Address)
	}
	if lc.Opcode != "" {
		out = append(out, "opcode", lc.Opcode)
	}
	out = append(out, args...)
	return out
}
