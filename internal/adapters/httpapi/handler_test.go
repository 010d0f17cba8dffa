package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
	"github.com/atvirokodosprendimai/auditledger/internal/core/usecase"
)

const testTokenSalt = "test-token-salt"

type memAccountRepo struct {
	mu      sync.Mutex
	nextID  int64
	byEmail map[string]domain.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{byEmail: map[string]domain.Account{}}
}

func (m *memAccountRepo) Create(_ context.Context, email, verifier, salt string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[email]; exists {
		return 0, domain.ErrConflict
	}
	m.nextID++
	m.byEmail[email] = domain.Account{ID: m.nextID, Email: email, Password: verifier, Salt: salt}
	return m.nextID, nil
}

func (m *memAccountRepo) FindByEmail(_ context.Context, email string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.byEmail[email]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, nil
}

type memTokenRepo struct {
	mu     sync.Mutex
	byHash map[string]int64
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{byHash: map[string]int64{}}
}

func (m *memTokenRepo) Insert(_ context.Context, userID int64, tokenHash, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byHash[tokenHash] = userID
	return nil
}

func (m *memTokenRepo) FindUserByHash(_ context.Context, tokenHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.byHash[tokenHash]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return userID, nil
}

type schemaStub struct {
	insertEntityFn func(ctx context.Context, creator int64, name string) (int64, error)
	findEntityFn   func(ctx context.Context, creator int64, name string) (int64, error)
	listEntitiesFn func(ctx context.Context, creator int64, name string) ([]domain.EntityTypeView, error)
}

func (s *schemaStub) InsertEntityType(ctx context.Context, creator int64, name string) (int64, error) {
	if s.insertEntityFn != nil {
		return s.insertEntityFn(ctx, creator, name)
	}
	return 1, nil
}

func (s *schemaStub) InsertEventType(context.Context, int64, string) (int64, error) { return 1, nil }

func (s *schemaStub) FindEntityTypeID(ctx context.Context, creator int64, name string) (int64, error) {
	if s.findEntityFn != nil {
		return s.findEntityFn(ctx, creator, name)
	}
	return 0, domain.ErrNotFound
}

func (s *schemaStub) FindEventType(context.Context, int64, string) (domain.EventType, error) {
	return domain.EventType{}, domain.ErrNotFound
}

func (s *schemaStub) FindEventTypeIDs(context.Context, int64, []string) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (s *schemaStub) EditEdges(context.Context, int64, int64, []int64, []string) (int64, error) {
	return 0, nil
}

func (s *schemaStub) UpdateEventTypeAttrs(context.Context, int64, []string) error { return nil }

func (s *schemaStub) ListEntityTypes(ctx context.Context, creator int64, name string) ([]domain.EntityTypeView, error) {
	if s.listEntitiesFn != nil {
		return s.listEntitiesFn(ctx, creator, name)
	}
	return nil, nil
}

func (s *schemaStub) ListEventTypes(context.Context, int64, string) ([]domain.EventTypeView, error) {
	return nil, nil
}

type ledgerStub struct {
	appendFn        func(ctx context.Context, creator int64, input domain.EventInput) error
	listFn          func(ctx context.Context, creator int64, filter domain.EventFilter, entityName string) ([]domain.EventRecord, error)
	listInstancesFn func(ctx context.Context, creator int64) ([]domain.EntityInstance, error)
}

func (s *ledgerStub) Append(ctx context.Context, creator int64, input domain.EventInput) error {
	if s.appendFn != nil {
		return s.appendFn(ctx, creator, input)
	}
	return nil
}

func (s *ledgerStub) List(ctx context.Context, creator int64, filter domain.EventFilter, entityName string) ([]domain.EventRecord, error) {
	if s.listFn != nil {
		return s.listFn(ctx, creator, filter, entityName)
	}
	return nil, nil
}

func (s *ledgerStub) ListEntityInstances(ctx context.Context, creator int64) ([]domain.EntityInstance, error) {
	if s.listInstancesFn != nil {
		return s.listInstancesFn(ctx, creator)
	}
	return nil, nil
}

type fixture struct {
	handler  http.Handler
	accounts *memAccountRepo
	tokens   *memTokenRepo
	schema   *schemaStub
	store    *ledgerStub
}

func silentLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newFixture() *fixture {
	accounts := newMemAccountRepo()
	tokens := newMemTokenRepo()
	schema := &schemaStub{}
	store := &ledgerStub{}

	authorizer := usecase.NewAuthorizer(accounts, tokens, testTokenSalt)
	ledger := usecase.NewLedger(store)
	sink := usecase.NewLedgerAuditSink(ledger, silentLogger())
	entityTypes := usecase.NewEntityTypeManager(schema, sink)
	eventTypes := usecase.NewEventTypeManager(schema, sink)
	handler := NewHandler(authorizer, entityTypes, eventTypes, ledger, silentLogger()).Router()

	return &fixture{handler: handler, accounts: accounts, tokens: tokens, schema: schema, store: store}
}

// bearerToken mints an account and a valid bearer token for it, bypassing the
// registration endpoint so tests don't pay the password derivation cost.
func (f *fixture) bearerToken(t *testing.T) string {
	t.Helper()
	userID, err := f.accounts.Create(context.Background(), "fixture@example.com", "verifier", "salt")
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	token := "fixture-token"
	if err := f.tokens.Insert(context.Background(), userID, usecase.HashSecret(token, testTokenSalt), "tests"); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	return token
}

func (f *fixture) do(t *testing.T, method, target, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func basicAuth(email, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(email+":"+password))
}

func TestMissingAuthHeader(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/v1/entity", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if body["result"] != "No auth header received" || body["success"] != false {
		t.Errorf("body = %v", body)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want Bearer", got)
	}

	rec = f.do(t, http.MethodGet, "/new_token", "", "")
	if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="Add token realm"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}

func TestMalformedAuthHeader(t *testing.T) {
	f := newFixture()

	for _, header := range []string{"Bearer", "Bearer   ", "JustOneWord"} {
		rec := f.do(t, http.MethodGet, "/v1/entity", header, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: code = %d, want 401", header, rec.Code)
		}
		if body := decodeEnvelope(t, rec); body["result"] != "Malformed auth header received" {
			t.Errorf("header %q: result = %v", header, body["result"])
		}
	}
}

func TestWrongSchemeIsForbiddenAfterVerification(t *testing.T) {
	f := newFixture()
	token := f.bearerToken(t)

	// A bearer token is a valid credential, but token-minting wants Basic.
	rec := f.do(t, http.MethodGet, "/new_token", "Bearer "+token, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["result"] != "Username and Password Authentication Needed" {
		t.Errorf("result = %v", body["result"])
	}
}

func TestBasicCredentialOnBearerRoute(t *testing.T) {
	f := newFixture()
	password := "secret"
	salt := "stored-salt"
	if _, err := f.accounts.Create(context.Background(), "user@example.com", usecase.HashSecret(password, salt), salt); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/v1/entity", basicAuth("user@example.com", password), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["result"] != "Token Not Provided" {
		t.Errorf("result = %v", body["result"])
	}
}

func TestBasicAuthFailures(t *testing.T) {
	f := newFixture()
	salt := "stored-salt"
	if _, err := f.accounts.Create(context.Background(), "user@example.com", usecase.HashSecret("secret", salt), salt); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	cases := []struct {
		name   string
		header string
		code   int
		result string
	}{
		{"wrong password", basicAuth("user@example.com", "wrong"), 401, "Unauthorized"},
		{"unregistered email", basicAuth("ghost@example.com", "secret"), 400, "Unregistered Email"},
		{"not base64", "Basic %%%", 400, "Credentials must be sent as base64 encoded email:password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/new_token", tc.header, "")
			if rec.Code != tc.code {
				t.Fatalf("code = %d, want %d", rec.Code, tc.code)
			}
			if body := decodeEnvelope(t, rec); body["result"] != tc.result {
				t.Errorf("result = %v, want %q", body["result"], tc.result)
			}
		})
	}
}

func TestRegistrationEndpoint(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/registration", "", `{"email":"user@example.com","password":"secret"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	if body["result"] != "user@example.com Registered" || body["success"] != true || body["code"] != float64(201) {
		t.Errorf("body = %v", body)
	}

	rec = f.do(t, http.MethodPost, "/registration", "", `{"email":"user@example.com","password":"other"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate code = %d, want 400", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["result"] != "Email Already Registered" {
		t.Errorf("duplicate result = %v", body["result"])
	}

	rec = f.do(t, http.MethodPost, "/registration", "", `{"email":"not-an-email","password":"secret"}`)
	if body := decodeEnvelope(t, rec); rec.Code != http.StatusBadRequest || body["result"] != "Invalid Email" {
		t.Errorf("invalid email: %d %v", rec.Code, body["result"])
	}
}

func TestNewTokenRoundTrip(t *testing.T) {
	f := newFixture()
	password := "secret"
	salt := "stored-salt"
	if _, err := f.accounts.Create(context.Background(), "user@example.com", usecase.HashSecret(password, salt), salt); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/new_token", basicAuth("user@example.com", password), `{"name":"ci"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	grant, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v", body["result"])
	}
	if grant["mssg"] != "Token ci created, will not be displayed again" {
		t.Errorf("message = %v", grant["mssg"])
	}
	token, _ := grant["token"].(string)
	if token == "" {
		t.Fatal("no token returned")
	}

	// The fresh token authenticates bearer routes.
	rec = f.do(t, http.MethodGet, "/v1/entity", "Bearer "+token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer code = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestAddEntityTypeMissingName(t *testing.T) {
	f := newFixture()
	token := f.bearerToken(t)

	rec := f.do(t, http.MethodPost, "/v1/entity", "Bearer "+token, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["result"] != "Missing entity name parameter" {
		t.Errorf("result = %v", body["result"])
	}
}

func TestAddEntityTypeCreated(t *testing.T) {
	f := newFixture()
	token := f.bearerToken(t)

	rec := f.do(t, http.MethodPost, "/v1/entity", "Bearer "+token, `{"name":"server"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if body := decodeEnvelope(t, rec); body["result"] != "Entity server Added" {
		t.Errorf("result = %v", body["result"])
	}
}

func TestEditEntityEventsArrayShapeGate(t *testing.T) {
	f := newFixture()
	token := f.bearerToken(t)

	rec := f.do(t, http.MethodPost, "/v1/entity/server", "Bearer "+token, `{"to_add":"deploy"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["result"] != "Events must be in a comma separated list" {
		t.Errorf("result = %v", body["result"])
	}

	rec = f.do(t, http.MethodPost, "/v1/event_type/deploy", "Bearer "+token, `{"to_remove":42}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["result"] != "Attributes must be in a comma separated list" {
		t.Errorf("result = %v", body["result"])
	}
}

func TestEditEntityEventsResultShape(t *testing.T) {
	f := newFixture()
	token := f.bearerToken(t)
	f.schema.findEntityFn = func(context.Context, int64, string) (int64, error) { return 7, nil }

	rec := f.do(t, http.MethodPost, "/v1/entity/server", "Bearer "+token, `{"to_add":["ghost"],"to_remove":[]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v", body["result"])
	}
	if result["invalid_adds"] != float64(1) {
		t.Errorf("invalid_adds = %v", result["invalid_adds"])
	}
	invalid, _ := result["invalid_events"].([]any)
	if len(invalid) != 1 || invalid[0] != "ghost" {
		t.Errorf("invalid_events = %v", result["invalid_events"])
	}
}

func TestAddEventMessage(t *testing.T) {
	f := newFixture()
	token := f.bearerToken(t)

	var got domain.EventInput
	f.store.appendFn = func(_ context.Context, _ int64, input domain.EventInput) error {
		got = input
		return nil
	}

	rec := f.do(t, http.MethodPost, "/v1/events", "Bearer "+token,
		`{"event_type":"deploy","entity_type":"server","entity_name":"web-1","success":true,"host":"x"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if body := decodeEnvelope(t, rec); body["result"] != "deploy event occurred on server instance web-1" {
		t.Errorf("result = %v", body["result"])
	}
	if got.Attrs["host"] != "x" {
		t.Errorf("attrs = %v", got.Attrs)
	}
}

func TestListEventsResponseShape(t *testing.T) {
	f := newFixture()
	token := f.bearerToken(t)

	rollback := int64(4)
	when := time.Date(2024, time.March, 9, 14, 30, 5, 0, time.UTC)
	f.store.listFn = func(_ context.Context, _ int64, _ domain.EventFilter, entityName string) ([]domain.EventRecord, error) {
		if entityName != "web-1" {
			t.Errorf("entityName = %q", entityName)
		}
		return []domain.EventRecord{{
			ID: 11, TypeID: 3, EntityID: 5, Time: when, Success: true,
			RollbackID: &rollback, Attrs: json.RawMessage(`{"host":"x"}`),
		}}, nil
	}

	rec := f.do(t, http.MethodGet, "/v1/events/web-1", "Bearer "+token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v", body["result"])
	}
	if result["events_returned"] != float64(1) {
		t.Errorf("events_returned = %v", result["events_returned"])
	}
	events, _ := result["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("events = %v", result["events"])
	}
	event := events[0].(map[string]any)
	if event["event.id"] != float64(11) || event["event.type"] != float64(3) || event["entity_id"] != float64(5) {
		t.Errorf("event ids = %v", event)
	}
	if event["time"] != "09 Mar 2024 14:30:05" {
		t.Errorf("time = %v", event["time"])
	}
	if event["rb_id"] != float64(4) {
		t.Errorf("rb_id = %v", event["rb_id"])
	}
	attrs, _ := event["attributes"].(map[string]any)
	if attrs["host"] != "x" {
		t.Errorf("attributes = %v", event["attributes"])
	}
}

func TestListEntityInstancesResponseShape(t *testing.T) {
	f := newFixture()
	token := f.bearerToken(t)

	when := time.Date(2024, time.March, 9, 14, 30, 5, 0, time.UTC)
	f.store.listInstancesFn = func(context.Context, int64) ([]domain.EntityInstance, error) {
		return []domain.EntityInstance{{ID: 2, Name: "web-1", TypeID: 1, Created: when, Modified: when}}, nil
	}

	rec := f.do(t, http.MethodGet, "/v1/entities", "Bearer "+token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	result := decodeEnvelope(t, rec)["result"].(map[string]any)
	if result["entities_returned"] != float64(1) {
		t.Errorf("entities_returned = %v", result["entities_returned"])
	}
	entities, _ := result["entities"].([]any)
	if len(entities) != 1 {
		t.Fatalf("entities = %v", result["entities"])
	}
	entity := entities[0].(map[string]any)
	if entity["name"] != "web-1" || entity["created"] != "09 Mar 2024 14:30:05" {
		t.Errorf("entity = %v", entity)
	}
}

func TestUnknownRouteEnvelope(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/nope", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if body["result"] != "Page does not exist" || body["success"] != false || body["code"] != float64(404) {
		t.Errorf("body = %v", body)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
}
