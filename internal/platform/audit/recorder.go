package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/carebridge/carebridge/internal/platform/auth"
)

// writeTimeout bounds the detached audit write so a slow store cannot hold
// request resources.
const writeTimeout = 3 * time.Second

// Recorder writes audit entries around handler execution. Writes are
// best-effort: a failed audit write is logged loudly but never fails the
// business operation it describes.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Scope is one in-flight audited operation, opened by Begin and closed
// exactly once by Complete.
type Scope struct {
	recorder *Recorder
	entry    *Entry
	started  time.Time
	done     bool
}

// Begin opens an audit scope for the operation. The actor may be nil when the
// failure being recorded happened before identity resolution.
func (r *Recorder) Begin(actor *auth.Actor, action, resourceType string) *Scope {
	var actorID, actorRole string
	if actor != nil {
		actorID = actor.ID
		actorRole = string(actor.Role)
	} else {
		actorID = "anonymous"
	}
	return &Scope{
		recorder: r,
		entry:    NewEntry(actorID, actorRole, action, resourceType),
		started:  time.Now(),
	}
}

// SetResourceID records the concrete resource once the handler knows it.
func (s *Scope) SetResourceID(id string) { s.entry.ResourceID = id }

// SetPHIAccessed marks the entry as involving protected health information.
func (s *Scope) SetPHIAccessed() { s.entry.PHIAccessed = true }

// SetRequest attaches transport-level correlation fields.
func (s *Scope) SetRequest(requestID, sourceIP string) {
	s.entry.RequestID = requestID
	s.entry.SourceIP = sourceIP
}

// SetSnapshot attaches request context to the entry. The snapshot is redacted
// before it is stored; callers pass it as-is.
func (s *Scope) SetSnapshot(snapshot map[string]any) {
	s.entry.Snapshot = Redact(snapshot)
}

// Complete closes the scope with the operation's outcome and hands the entry
// to the store. Safe to call more than once; only the first call writes, so a
// deferred Complete and an explicit one cannot double-record.
func (s *Scope) Complete(outcome Outcome, failureReason string) {
	if s.done {
		return
	}
	s.done = true

	s.entry.Outcome = outcome
	s.entry.FailureReason = failureReason
	s.entry.DurationMs = time.Since(s.started).Milliseconds()

	s.recorder.write(s.entry)
}

// write persists the entry on a detached context so request cancellation
// cannot lose the trail of work already performed.
func (r *Recorder) write(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.Append(ctx, entry); err != nil {
		log.Error().
			Err(err).
			Str("audit_id", entry.ID.String()).
			Str("actor_id", entry.ActorID).
			Str("action", entry.Action).
			Str("resource_type", entry.ResourceType).
			Str("outcome", string(entry.Outcome)).
			Msg("audit write failed, entry lost")
	}
}

// auditedKey marks a request context whose failure has already been recorded,
// so the error responder does not record it a second time.
type auditedMarker struct{ recorded bool }

type auditedKeyType struct{}

var auditedKey auditedKeyType

// ContextWithMarker arms a request context with a shared audited marker.
// Middleware installs it once per request before any recording can happen.
func ContextWithMarker(ctx context.Context) context.Context {
	return context.WithValue(ctx, auditedKey, &auditedMarker{})
}

// MarkRecorded flags the request as audited. Returns false when the context
// carries no marker.
func MarkRecorded(ctx context.Context) bool {
	m, ok := ctx.Value(auditedKey).(*auditedMarker)
	if !ok {
		return false
	}
	m.recorded = true
	return true
}

// AlreadyRecorded reports whether this request's outcome has been audited.
func AlreadyRecorded(ctx context.Context) bool {
	m, ok := ctx.Value(auditedKey).(*auditedMarker)
	return ok && m.recorded
}
