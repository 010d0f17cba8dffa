package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
	"github.com/atvirokodosprendimai/auditledger/internal/core/usecase"
)

type ctxKey string

const (
	// Rendered timestamps mirror the ledger's "DD Mon YYYY HH24:MI:SS" style.
	timeFormat             = "02 Jan 2006 15:04:05"
	userIDCtxKey    ctxKey = "user_id"
	schemeCtxKey    ctxKey = "auth_scheme"
	maxJSONBodySize        = 1 << 20
)

type Handler struct {
	authorizer  *usecase.Authorizer
	entityTypes *usecase.EntityTypeManager
	eventTypes  *usecase.EventTypeManager
	ledger      *usecase.Ledger
	log         logrus.FieldLogger
}

func NewHandler(authorizer *usecase.Authorizer, entityTypes *usecase.EntityTypeManager, eventTypes *usecase.EventTypeManager, ledger *usecase.Ledger, log logrus.FieldLogger) *Handler {
	return &Handler{
		authorizer:  authorizer,
		entityTypes: entityTypes,
		eventTypes:  eventTypes,
		ledger:      ledger,
		log:         log,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Post("/registration", h.register)

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAuth)
		pr.Get("/new_token", h.newToken)

		pr.Post("/v1/entity", h.addEntityType)
		pr.Get("/v1/entity", h.listEntityTypes)
		pr.Post("/v1/entity/{name}", h.editEntityEvents)
		pr.Get("/v1/entity/{name}", h.listEntityTypes)

		pr.Post("/v1/event_type", h.addEventType)
		pr.Get("/v1/event_type", h.listEventTypes)
		pr.Post("/v1/event_type/{name}", h.editEventTypeAttributes)
		pr.Get("/v1/event_type/{name}", h.listEventTypes)

		pr.Post("/v1/events", h.addEvent)
		pr.Get("/v1/events", h.listEvents)
		pr.Get("/v1/events/{name}", h.listEvents)
		pr.Get("/v1/entities", h.listEntityInstances)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, "Page does not exist", false, http.StatusNotFound)
	})

	return r
}

// envelope is the uniform response shape: the operation result, a success
// flag, and the numeric code repeated in the body.
type envelope struct {
	Result  any  `json:"result"`
	Success bool `json:"success"`
	Code    int  `json:"code"`
}

type registrationRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type eventView struct {
	ID         int64           `json:"event.id"`
	Type       int64           `json:"event.type"`
	EntityID   int64           `json:"entity_id"`
	Time       string          `json:"time"`
	Success    bool            `json:"success"`
	RollbackID *int64          `json:"rb_id"`
	Attributes json.RawMessage `json:"attributes"`
}

type entityInstanceView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Type     int64  `json:"type"`
	Created  string `json:"created"`
	Modified string `json:"modified"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := decodeInto(w, r, &req); err != nil {
		writeEnvelope(w, "Invalid JSON body", false, http.StatusBadRequest)
		return
	}

	message, err := h.authorizer.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, message, true, http.StatusCreated)
}

func (h *Handler) newToken(w http.ResponseWriter, r *http.Request) {
	if !h.ensureBasic(w, r) {
		return
	}

	body := decodeBody(w, r)
	name, _ := body["name"].(string)

	grant, err := h.authorizer.IssueToken(r.Context(), userIDFrom(r.Context()), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, grant, true, http.StatusCreated)
}

func (h *Handler) addEntityType(w http.ResponseWriter, r *http.Request) {
	if !h.ensureBearer(w, r) {
		return
	}

	body := decodeBody(w, r)
	name, _ := body["name"].(string)

	message, err := h.entityTypes.Add(r.Context(), userIDFrom(r.Context()), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, message, true, http.StatusCreated)
}

func (h *Handler) editEntityEvents(w http.ResponseWriter, r *http.Request) {
	if !h.ensureBearer(w, r) {
		return
	}

	body := decodeBody(w, r)
	toAdd, okAdd := stringList(body["to_add"])
	toRemove, okRemove := stringList(body["to_remove"])
	if !okAdd || !okRemove {
		writeEnvelope(w, "Events must be in a comma separated list", false, http.StatusBadRequest)
		return
	}

	result, err := h.entityTypes.EditEvents(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "name"), toAdd, toRemove)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, result, true, http.StatusCreated)
}

func (h *Handler) listEntityTypes(w http.ResponseWriter, r *http.Request) {
	if !h.ensureBearer(w, r) {
		return
	}

	views, err := h.entityTypes.View(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, map[string]any{"entities_returned": len(views), "entities": views}, true, http.StatusOK)
}

func (h *Handler) addEventType(w http.ResponseWriter, r *http.Request) {
	if !h.ensureBearer(w, r) {
		return
	}

	body := decodeBody(w, r)
	name, _ := body["name"].(string)

	message, err := h.eventTypes.Add(r.Context(), userIDFrom(r.Context()), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, message, true, http.StatusCreated)
}

func (h *Handler) editEventTypeAttributes(w http.ResponseWriter, r *http.Request) {
	if !h.ensureBearer(w, r) {
		return
	}

	body := decodeBody(w, r)
	toAdd, okAdd := stringList(body["to_add"])
	toRemove, okRemove := stringList(body["to_remove"])
	if !okAdd || !okRemove {
		writeEnvelope(w, "Attributes must be in a comma separated list", false, http.StatusBadRequest)
		return
	}

	attrs, err := h.eventTypes.EditAttributes(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "name"), toAdd, toRemove)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, map[string]any{"attributes": attrs}, true, http.StatusCreated)
}

func (h *Handler) listEventTypes(w http.ResponseWriter, r *http.Request) {
	if !h.ensureBearer(w, r) {
		return
	}

	views, err := h.eventTypes.View(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, map[string]any{"events_returned": len(views), "events": views}, true, http.StatusOK)
}

func (h *Handler) addEvent(w http.ResponseWriter, r *http.Request) {
	if !h.ensureBearer(w, r) {
		return
	}

	payload := decodeBody(w, r)
	message, err := h.ledger.Add(r.Context(), userIDFrom(r.Context()), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeEnvelope(w, message, true, http.StatusCreated)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if !h.ensureBearer(w, r) {
		return
	}

	filters := decodeBody(w, r)
	records, err := h.ledger.View(r.Context(), userIDFrom(r.Context()), filters, chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]eventView, 0, len(records))
	for _, record := range records {
		views = append(views, eventView{
			ID:         record.ID,
			Type:       record.TypeID,
			EntityID:   record.EntityID,
			Time:       record.Time.UTC().Format(timeFormat),
			Success:    record.Success,
			RollbackID: record.RollbackID,
			Attributes: record.Attrs,
		})
	}
	writeEnvelope(w, map[string]any{"events_returned": len(views), "events": views}, true, http.StatusOK)
}

func (h *Handler) listEntityInstances(w http.ResponseWriter, r *http.Request) {
	if !h.ensureBearer(w, r) {
		return
	}

	instances, err := h.ledger.ViewEntityInstances(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]entityInstanceView, 0, len(instances))
	for _, instance := range instances {
		views = append(views, entityInstanceView{
			ID:       instance.ID,
			Name:     instance.Name,
			Type:     instance.TypeID,
			Created:  instance.Created.UTC().Format(timeFormat),
			Modified: instance.Modified.UTC().Format(timeFormat),
		})
	}
	writeEnvelope(w, map[string]any{"entities_returned": len(views), "entities": views}, true, http.StatusOK)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// requireAuth verifies the Authorization header before any business code
// runs. The verdict's user id and the presented scheme land in the request
// context; per-route scheme enforcement happens in the handlers.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if strings.HasPrefix(r.URL.Path, "/new_token") {
				w.Header().Set("WWW-Authenticate", `Basic realm="Add token realm"`)
			} else {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			writeEnvelope(w, "No auth header received", false, http.StatusUnauthorized)
			return
		}

		scheme, credential, ok := strings.Cut(header, " ")
		if !ok || strings.TrimSpace(credential) == "" {
			writeEnvelope(w, "Malformed auth header received", false, http.StatusUnauthorized)
			return
		}

		verdict := h.authorizer.Verify(r.Context(), scheme, strings.TrimSpace(credential))
		if !verdict.Authorized {
			writeEnvelope(w, verdict.Message, false, verdict.Code)
			return
		}

		ctx := context.WithValue(r.Context(), userIDCtxKey, verdict.UserID)
		ctx = context.WithValue(ctx, schemeCtxKey, scheme)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensureBasic rejects any verified credential that did not arrive under the
// Basic scheme. Runs after verification, so a bad credential reads as 401
// and a wrong scheme as 403.
func (h *Handler) ensureBasic(w http.ResponseWriter, r *http.Request) bool {
	if schemeFrom(r.Context()) != "Basic" {
		writeEnvelope(w, "Username and Password Authentication Needed", false, http.StatusForbidden)
		return false
	}
	return true
}

func (h *Handler) ensureBearer(w http.ResponseWriter, r *http.Request) bool {
	if schemeFrom(r.Context()) != "Bearer" {
		writeEnvelope(w, "Token Not Provided", false, http.StatusForbidden)
		return false
	}
	return true
}

// writeError renders the structured (message, success, code) signal
// unchanged; anything else is logged and replaced with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var status *domain.StatusError
	if errors.As(err, &status) {
		if status.Code >= http.StatusInternalServerError {
			h.log.WithError(err).Error("request failed")
		}
		writeEnvelope(w, status.Message, false, status.Code)
		return
	}
	h.log.WithError(err).Error("unhandled error")
	writeEnvelope(w, domain.InternalErrorMessage, false, http.StatusInternalServerError)
}

// decodeBody reads an optional JSON object body. Requests without a body, or
// with one that is not a JSON object, yield an empty map, matching how
// filter-carrying GETs behave when nothing is sent.
func decodeBody(w http.ResponseWriter, r *http.Request) map[string]any {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil || len(raw) == 0 {
		return map[string]any{}
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return map[string]any{}
	}
	return body
}

func decodeInto(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// stringList accepts an absent value or a JSON array of strings. Anything
// else fails the array-shape gate.
func stringList(value any) ([]string, bool) {
	if value == nil {
		return []string{}, true
	}
	items, ok := value.([]any)
	if !ok {
		return nil, false
	}
	list := make([]string, 0, len(items))
	for _, item := range items {
		name, ok := item.(string)
		if !ok {
			return nil, false
		}
		list = append(list, name)
	}
	return list, true
}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDCtxKey).(int64)
	return id
}

func schemeFrom(ctx context.Context) string {
	scheme, _ := ctx.Value(schemeCtxKey).(string)
	return scheme
}

func writeEnvelope(w http.ResponseWriter, result any, success bool, code int) {
	writeJSON(w, code, envelope{Result: result, Success: success, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, domain.InternalErrorMessage, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
