// Package upstream holds the types shared by every upguard component:
// upstream configuration, secrets, the error taxonomy, lifecycle events and
// status snapshots.
//
// Errors returned to callers always carry the upstream name and a Code:
//
//	_, err := orch.Request(ctx, "coinbase", "GET", "/accounts", nil)
//	var uerr *upstream.Error
//	if errors.As(err, &uerr) && uerr.Code == upstream.CodeRateLimited {
//	    // back off
//	}
//
// Sentinels support errors.Is:
//
//	if errors.Is(err, upstream.ErrCircuitOpen) { ... }
package upstream
