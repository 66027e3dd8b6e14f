package port

import (
	"context"
	"encoding/json"
)

// Caller is the minimal contract for invoking a named backend procedure.
// Implementations return the raw response body so callers can apply their
// own shape-tolerant decoding; several RPCs are not contractually stable.
// All methods must be context-aware to allow caller-driven timeouts.
type Caller interface {
	// Call invokes fn with the given named arguments and returns the raw
	// JSON response. Transport failures and non-2xx statuses surface as
	// typed errors; an empty body returns json.RawMessage(nil).
	Call(ctx context.Context, fn string, args map[string]any) (json.RawMessage, error)
}
