// Package api exposes the fixture store over HTTP with a JSON envelope on
// every response.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/asaidimu/anansi-fixtures/core"
	"github.com/asaidimu/anansi-fixtures/core/notify"
	"github.com/asaidimu/anansi-fixtures/core/persistence"
	"github.com/asaidimu/anansi-fixtures/core/schema"
	"github.com/asaidimu/anansi-fixtures/core/settings"
	"github.com/asaidimu/anansi-fixtures/core/value"
	"go.uber.org/zap"
)

// APIResponse represents the consistent envelope pattern for all API responses
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError represents error details in API responses
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// EntityWriteRequest is the body of entity create and update requests.
type EntityWriteRequest struct {
	Fields value.Map `json:"fields"`
	// Environment tags a new record. The environment query parameter is
	// used when it is absent. Ignored on update.
	Environment *string `json:"environment,omitempty"`
}

// CountResponse reports how many records a bulk operation touched.
type CountResponse struct {
	Count int64 `json:"count"`
}

// EntityService is the service surface the handlers call.
type EntityService interface {
	RegisterSchema(ctx context.Context, def schema.EntitySchema) (*schema.EntitySchema, error)
	GetSchema(ctx context.Context, entityType string) (*schema.EntitySchema, error)
	ListSchemas(ctx context.Context) ([]schema.EntitySchema, error)
	UpdateSchema(ctx context.Context, entityType string, def schema.EntitySchema) (*schema.EntitySchema, error)
	DeleteSchema(ctx context.Context, entityType string) error

	Create(ctx context.Context, entityType string, fields value.Map, environment string) (*persistence.DynamicEntity, error)
	Get(ctx context.Context, entityType, id string) (*persistence.DynamicEntity, error)
	Update(ctx context.Context, entityType, id string, fields value.Map) (*persistence.DynamicEntity, error)
	Delete(ctx context.Context, entityType, id string) error
	List(ctx context.Context, entityType, environment string, page persistence.Page) ([]*persistence.DynamicEntity, error)
	Filter(ctx context.Context, entityType, field, raw, environment string, page persistence.Page) ([]*persistence.DynamicEntity, error)
	DeleteByFilter(ctx context.Context, entityType, field, raw, environment string) (int64, error)
	ClaimNext(ctx context.Context, entityType, environment string) (*persistence.DynamicEntity, error)
	ResetAll(ctx context.Context, entityType, environment string) (int64, error)
	Collections(ctx context.Context) ([]string, error)
	DropCollection(ctx context.Context, entityType string) error
}

// SettingsStore reads and saves the retention settings.
type SettingsStore interface {
	Settings(ctx context.Context) (settings.Settings, error)
	Save(ctx context.Context, s settings.Settings) error
}

// Subscriber registers callbacks for entity change events.
type Subscriber interface {
	Subscribe(entityType string, fn func(ctx context.Context, event notify.Event) error) func()
}

// Options wires the optional parts of the server. Routes whose collaborator
// is missing answer 404.
type Options struct {
	Settings SettingsStore
	Events   Subscriber
	// Health is called by /healthz. A nil Health always reports ok.
	Health func(ctx context.Context) error
	Logger *zap.Logger
}

// APIServer wraps the entity service and provides HTTP handlers
type APIServer struct {
	service  EntityService
	settings SettingsStore
	events   Subscriber
	health   func(ctx context.Context) error
	logger   *zap.Logger
	mux      *http.ServeMux
}

// NewAPIServer creates a new API server instance
func NewAPIServer(service EntityService, opts Options) *APIServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &APIServer{
		service:  service,
		settings: opts.Settings,
		events:   opts.Events,
		health:   opts.Health,
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	server.setupRoutes()
	return server
}

// ServeHTTP implements http.Handler interface
func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the server wrapped in its middleware.
func (s *APIServer) Handler() http.Handler {
	return s.CORSMiddleware(s)
}

func (s *APIServer) setupRoutes() {
	// Entity records
	s.mux.HandleFunc("GET /entities", s.handleCollectionsList)
	s.mux.HandleFunc("GET /entities/{type}", s.handleEntityList)
	s.mux.HandleFunc("POST /entities/{type}", s.handleEntityCreate)
	s.mux.HandleFunc("DELETE /entities/{type}", s.handleCollectionDrop)
	s.mux.HandleFunc("GET /entities/{type}/next", s.handleEntityClaim)
	s.mux.HandleFunc("POST /entities/{type}/reset-all", s.handleEntityReset)
	s.mux.HandleFunc("GET /entities/{type}/filter/{field}/{value}", s.handleEntityFilter)
	s.mux.HandleFunc("DELETE /entities/{type}/filter/{field}/{value}", s.handleEntityDeleteByFilter)
	s.mux.HandleFunc("GET /entities/{type}/{id}", s.handleEntityGet)
	s.mux.HandleFunc("PUT /entities/{type}/{id}", s.handleEntityUpdate)
	s.mux.HandleFunc("DELETE /entities/{type}/{id}", s.handleEntityDelete)

	// Schemas
	s.mux.HandleFunc("GET /schemas", s.handleSchemaList)
	s.mux.HandleFunc("POST /schemas", s.handleSchemaCreate)
	s.mux.HandleFunc("GET /schemas/{name}", s.handleSchemaGet)
	s.mux.HandleFunc("PUT /schemas/{name}", s.handleSchemaUpdate)
	s.mux.HandleFunc("DELETE /schemas/{name}", s.handleSchemaDelete)

	s.mux.HandleFunc("GET /settings", s.handleSettingsGet)
	s.mux.HandleFunc("PUT /settings", s.handleSettingsUpdate)

	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// parseJSONBody parses JSON request body into the provided struct
func (s *APIServer) parseJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// writeSuccessResponse writes a successful API response
func (s *APIServer) writeSuccessResponse(w http.ResponseWriter, statusCode int, data any) {
	response := APIResponse{
		Success: true,
		Data:    data,
	}
	s.writeJSONResponse(w, statusCode, response)
}

// writeErrorResponse writes an error API response
func (s *APIServer) writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string, details any) {
	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	s.writeJSONResponse(w, statusCode, response)
}

// writeServiceError maps a store error onto its status code.
func (s *APIServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *core.ValidationError
	switch {
	case errors.Is(err, core.ErrNoneAvailable):
		s.writeErrorResponse(w, http.StatusNotFound, "NONE_AVAILABLE", err.Error(), nil)
	case errors.Is(err, core.ErrNotFound):
		s.writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, core.ErrConflict):
		s.writeErrorResponse(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.As(err, &verr):
		code := "VALIDATION_FAILED"
		if errors.Is(err, core.ErrInvalidDefinition) {
			code = "INVALID_DEFINITION"
		}
		s.writeErrorResponse(w, http.StatusBadRequest, code, err.Error(), verr.Issues)
	case errors.Is(err, core.ErrInvalidDefinition):
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_DEFINITION", err.Error(), nil)
	case errors.Is(err, core.ErrValidation):
		s.writeErrorResponse(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
	case errors.Is(err, core.ErrInvalidID):
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_ID", err.Error(), nil)
	case errors.Is(err, core.ErrReservedFieldName):
		s.writeErrorResponse(w, http.StatusBadRequest, "RESERVED_FIELD_NAME", err.Error(), nil)
	default:
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
	}
}

// writeJSONResponse writes a JSON response
func (s *APIServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// CORSMiddleware adds permissive CORS headers and answers preflight requests.
func (s *APIServer) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
