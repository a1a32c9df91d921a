package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/carebridge/carebridge/internal/platform/audit"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/errs"
)

// snapshotBodyMax caps how much of a request body lands in the audit
// snapshot. Larger bodies are audited without their content.
const snapshotBodyMax = 16 << 10

// Audit returns middleware that records one audit entry for every execution
// of the wrapped operation, on every exit path: normal return, error return,
// and panic. It must sit inside Authenticate so the entry carries the
// resolved actor, and outside Authorize so denials are captured. The request
// snapshot is taken before the handler runs and redacted by the scope.
func Audit(recorder *audit.Recorder, op Operation) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			ctx := c.Request().Context()
			actor := auth.ActorFromContext(ctx)

			scope := recorder.Begin(actor, op.Name, op.ResourceType)
			if op.PHI {
				scope.SetPHIAccessed()
			}
			if op.ResourceParam != "" {
				scope.SetResourceID(c.Param(op.ResourceParam))
			}
			rid, _ := c.Get("request_id").(string)
			scope.SetRequest(rid, c.RealIP())
			if snap := requestSnapshot(c); snap != nil {
				scope.SetSnapshot(snap)
			}

			defer func() {
				if r := recover(); r != nil {
					scope.Complete(audit.OutcomeFailure, fmt.Sprintf("panic: %v", r))
					audit.MarkRecorded(ctx)
					panic(r)
				}
				if err != nil {
					scope.Complete(audit.OutcomeFailure, failureReason(err))
					audit.MarkRecorded(ctx)
					return
				}
				scope.Complete(audit.OutcomeSuccess, "")
			}()

			return next(c)
		}
	}
}

// requestSnapshot captures the query parameters and, for small JSON bodies,
// the decoded payload. The body is replayed for the handler; redaction
// happens in the scope, so sensitive fields never reach the store.
func requestSnapshot(c echo.Context) map[string]any {
	snap := map[string]any{}

	if params := c.QueryParams(); len(params) > 0 {
		query := make(map[string]any, len(params))
		for k, v := range params {
			if len(v) == 1 {
				query[k] = v[0]
			} else {
				query[k] = v
			}
		}
		snap["query"] = query
	}

	req := c.Request()
	if req.Body != nil && req.ContentLength > 0 && req.ContentLength <= snapshotBodyMax &&
		strings.Contains(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		buf, readErr := io.ReadAll(io.LimitReader(req.Body, req.ContentLength))
		req.Body = io.NopCloser(bytes.NewReader(buf))
		if readErr == nil {
			var body map[string]any
			if json.Unmarshal(buf, &body) == nil && len(body) > 0 {
				snap["body"] = body
			}
		}
	}

	if len(snap) == 0 {
		return nil
	}
	return snap
}

// failureReason summarizes an error for the audit trail without leaking
// internal detail: the stable code plus the outward-safe message.
func failureReason(err error) string {
	e := errs.AsError(err)
	return e.Kind.String() + ": " + e.Message
}
