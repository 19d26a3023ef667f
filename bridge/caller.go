package bridge

import (
	"context"

	wasmkernel "github.com/wippyai/wasm-kernel"
)

type callerKey struct{}

// WithCaller tags ctx with the instance about to run. The scheduler calls
// every guest through a context produced here.
func WithCaller(ctx context.Context, id wasmkernel.InstanceID) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// CallerFrom returns the running instance recorded by WithCaller.
func CallerFrom(ctx context.Context) (wasmkernel.InstanceID, bool) {
	id, ok := ctx.Value(callerKey{}).(wasmkernel.InstanceID)
	return id, ok && id != 0
}
