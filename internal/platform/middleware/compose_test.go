package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carebridge/carebridge/internal/platform/audit"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/authz"
)

func TestCompose_Order(t *testing.T) {
	var order []string
	tag := func(name string) echo.MiddlewareFunc {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				order = append(order, name)
				return next(c)
			}
		}
	}

	h := Compose(func(c echo.Context) error {
		order = append(order, "handler")
		return nil
	}, tag("m1"), tag("m2"), tag("m3"))

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	want := []string{"m1", "m2", "m3", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

type memStore struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (m *memStore) Append(ctx context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) Search(ctx context.Context, q audit.Query) (*audit.Page, error) {
	return &audit.Page{}, nil
}

func (m *memStore) written() []*audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries
}

type staticOwnership struct{ owner string }

func (s staticOwnership) OwnerID(ctx context.Context, ref authz.Ref) (string, error) {
	if s.owner == "" {
		return "", authz.ErrNoOwner
	}
	return s.owner, nil
}

var pipelineSigningKey = []byte("pipeline-test-signing-key")

func bearerToken(t *testing.T, subject, role, category string) string {
	t.Helper()
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:     role,
		Category: category,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(pipelineSigningKey)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return "Bearer " + token
}

// testServer wires a full mediated endpoint: request id, the error responder,
// and the per-operation chain over in-memory audit storage.
func testServer(t *testing.T) (*echo.Echo, *memStore) {
	t.Helper()

	store := &memStore{}
	recorder := audit.NewRecorder(store)

	rules, err := authz.NewRuleset(authz.DefaultRules())
	if err != nil {
		t.Fatalf("NewRuleset: %v", err)
	}
	p := &Pipeline{
		Resolver: auth.NewResolver(auth.NewJWTVerifier(auth.JWTConfig{SigningKey: pipelineSigningKey})),
		Engine:   authz.NewEngine(rules, staticOwnership{owner: "client-1"}, nil),
		Recorder: recorder,
	}

	e := echo.New()
	e.HTTPErrorHandler = ErrorResponder(zerolog.Nop(), recorder)
	e.Use(RequestID())

	op := Operation{
		Name:          "client.read",
		ResourceType:  "Client",
		Action:        authz.ActionRead,
		ResourceParam: "id",
		PHI:           true,
	}
	e.GET("/clients/:id", p.Endpoint(op, func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	}))

	return e, store
}

func TestEndpoint_SuccessAuditedOnce(t *testing.T) {
	e, store := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/clients/client-1", nil)
	req.Header.Set("Authorization", bearerToken(t, "u-1", "provider", "service_provider"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	entries := store.written()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	en := entries[0]
	if en.Outcome != audit.OutcomeSuccess {
		t.Errorf("outcome = %q", en.Outcome)
	}
	if en.ActorID != "u-1" || en.Action != "client.read" || en.ResourceID != "client-1" {
		t.Errorf("entry = %q/%q/%q", en.ActorID, en.Action, en.ResourceID)
	}
	if !en.PHIAccessed {
		t.Error("PHI flag not carried")
	}
	if en.RequestID == "" {
		t.Error("request id missing from entry")
	}
}

func TestEndpoint_DenialAuditedOnce(t *testing.T) {
	e, store := testServer(t)

	// A client reading someone else's chart: authenticated, not authorized.
	req := httptest.NewRequest(http.MethodGet, "/clients/client-1", nil)
	req.Header.Set("Authorization", bearerToken(t, "client-2", "client", "client"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The audit middleware records the denial; the error responder must not
	// record it again.
	entries := store.written()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	en := entries[0]
	if en.Outcome != audit.OutcomeFailure {
		t.Errorf("outcome = %q", en.Outcome)
	}
	if en.ActorID != "client-2" || en.Action != "client.read" {
		t.Errorf("entry = %q/%q", en.ActorID, en.Action)
	}
	if en.FailureReason != "AUTHORIZATION_ERROR: access denied" {
		t.Errorf("failure reason = %q", en.FailureReason)
	}
}

func TestEndpoint_AuthnFailureAuditedByResponder(t *testing.T) {
	e, store := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/clients/client-1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The audit scope never opened, so the error responder records the
	// rejected attempt itself, anonymously.
	entries := store.written()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	en := entries[0]
	if en.ActorID != "anonymous" {
		t.Errorf("ActorID = %q", en.ActorID)
	}
	if en.Outcome != audit.OutcomeFailure {
		t.Errorf("outcome = %q", en.Outcome)
	}
}

func TestEndpoint_SnapshotCapturedAndRedacted(t *testing.T) {
	store := &memStore{}
	recorder := audit.NewRecorder(store)
	rules, _ := authz.NewRuleset(authz.DefaultRules())
	p := &Pipeline{
		Resolver: auth.NewResolver(auth.NewJWTVerifier(auth.JWTConfig{SigningKey: pipelineSigningKey})),
		Engine:   authz.NewEngine(rules, nil, nil),
		Recorder: recorder,
	}

	e := echo.New()
	e.HTTPErrorHandler = ErrorResponder(zerolog.Nop(), recorder)
	e.Use(RequestID())

	var bound map[string]any
	op := Operation{Name: "client.create", ResourceType: "Client", Action: authz.ActionCreate, PHI: true}
	e.POST("/clients", p.Endpoint(op, func(c echo.Context) error {
		if err := c.Bind(&bound); err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, bound)
	}))

	body := `{"first_name":"Jane","password":"hunter2"}`
	req := httptest.NewRequest(http.MethodPost, "/clients?verbose=true", strings.NewReader(body))
	req.Header.Set("Authorization", bearerToken(t, "u-1", "provider", "service_provider"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	// The body must still be readable by the handler after the snapshot.
	if bound["first_name"] != "Jane" || bound["password"] != "hunter2" {
		t.Errorf("handler saw body %v", bound)
	}

	entries := store.written()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	snap := entries[0].Snapshot
	if snap == nil {
		t.Fatal("audit entry carries no request snapshot")
	}

	query, _ := snap["query"].(map[string]any)
	if query["verbose"] != "true" {
		t.Errorf("query snapshot = %v", snap["query"])
	}
	sb, _ := snap["body"].(map[string]any)
	if sb["password"] != "***REDACTED***" {
		t.Errorf("password = %v, want redacted", sb["password"])
	}
	if sb["first_name"] != "Jane" {
		t.Errorf("first_name = %v", sb["first_name"])
	}
}

func TestEndpoint_HandlerErrorAudited(t *testing.T) {
	store := &memStore{}
	recorder := audit.NewRecorder(store)
	rules, _ := authz.NewRuleset(authz.DefaultRules())
	p := &Pipeline{
		Resolver: auth.NewResolver(auth.NewJWTVerifier(auth.JWTConfig{SigningKey: pipelineSigningKey})),
		Engine:   authz.NewEngine(rules, nil, nil),
		Recorder: recorder,
	}

	e := echo.New()
	e.HTTPErrorHandler = ErrorResponder(zerolog.Nop(), recorder)
	e.Use(RequestID())

	op := Operation{Name: "client.create", ResourceType: "Client", Action: authz.ActionCreate}
	e.POST("/clients", p.Endpoint(op, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad payload")
	}))

	req := httptest.NewRequest(http.MethodPost, "/clients", nil)
	req.Header.Set("Authorization", bearerToken(t, "u-1", "provider", "service_provider"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	entries := store.written()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Outcome != audit.OutcomeFailure {
		t.Errorf("outcome = %q", entries[0].Outcome)
	}
}
