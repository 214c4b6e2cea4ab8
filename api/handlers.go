package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/asaidimu/anansi-fixtures/core/notify"
	"github.com/asaidimu/anansi-fixtures/core/persistence"
	"github.com/asaidimu/anansi-fixtures/core/schema"
	"github.com/asaidimu/anansi-fixtures/core/settings"
	"go.uber.org/zap"
)

// eventBuffer bounds the events queued for one slow stream client.
const eventBuffer = 64

func environment(r *http.Request) string {
	return r.URL.Query().Get("environment")
}

// page reads the optional limit and offset query parameters.
func page(r *http.Request) (persistence.Page, error) {
	var p persistence.Page
	for name, dst := range map[string]*int{"limit": &p.Limit, "offset": &p.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return persistence.Page{}, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
		}
		*dst = n
	}
	return p, nil
}

func orEmpty(entities []*persistence.DynamicEntity) []*persistence.DynamicEntity {
	if entities == nil {
		return []*persistence.DynamicEntity{}
	}
	return entities
}

func (s *APIServer) handleCollectionsList(w http.ResponseWriter, r *http.Request) {
	names, err := s.service.Collections(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeSuccessResponse(w, http.StatusOK, names)
}

func (s *APIServer) handleCollectionDrop(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DropCollection(r.Context(), r.PathValue("type")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, nil)
}

func (s *APIServer) handleEntityList(w http.ResponseWriter, r *http.Request) {
	p, err := page(r)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_PAGINATION", "Invalid pagination parameters", err.Error())
		return
	}
	entities, err := s.service.List(r.Context(), r.PathValue("type"), environment(r), p)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, orEmpty(entities))
}

func (s *APIServer) handleEntityCreate(w http.ResponseWriter, r *http.Request) {
	var req EntityWriteRequest
	if err := s.parseJSONBody(r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request body", err.Error())
		return
	}

	env := environment(r)
	if req.Environment != nil {
		env = *req.Environment
	}

	entity, err := s.service.Create(r.Context(), r.PathValue("type"), req.Fields, env)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusCreated, entity)
}

func (s *APIServer) handleEntityGet(w http.ResponseWriter, r *http.Request) {
	entity, err := s.service.Get(r.Context(), r.PathValue("type"), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, entity)
}

func (s *APIServer) handleEntityUpdate(w http.ResponseWriter, r *http.Request) {
	var req EntityWriteRequest
	if err := s.parseJSONBody(r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request body", err.Error())
		return
	}

	entity, err := s.service.Update(r.Context(), r.PathValue("type"), r.PathValue("id"), req.Fields)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, entity)
}

func (s *APIServer) handleEntityDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), r.PathValue("type"), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, CountResponse{Count: 1})
}

func (s *APIServer) handleEntityFilter(w http.ResponseWriter, r *http.Request) {
	p, err := page(r)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_PAGINATION", "Invalid pagination parameters", err.Error())
		return
	}
	entities, err := s.service.Filter(r.Context(), r.PathValue("type"), r.PathValue("field"), r.PathValue("value"), environment(r), p)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, orEmpty(entities))
}

func (s *APIServer) handleEntityDeleteByFilter(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.DeleteByFilter(r.Context(), r.PathValue("type"), r.PathValue("field"), r.PathValue("value"), environment(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, CountResponse{Count: n})
}

func (s *APIServer) handleEntityClaim(w http.ResponseWriter, r *http.Request) {
	entity, err := s.service.ClaimNext(r.Context(), r.PathValue("type"), environment(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, entity)
}

func (s *APIServer) handleEntityReset(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.ResetAll(r.Context(), r.PathValue("type"), environment(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, CountResponse{Count: n})
}

func (s *APIServer) handleSchemaList(w http.ResponseWriter, r *http.Request) {
	schemas, err := s.service.ListSchemas(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if schemas == nil {
		schemas = []schema.EntitySchema{}
	}
	s.writeSuccessResponse(w, http.StatusOK, schemas)
}

func (s *APIServer) handleSchemaCreate(w http.ResponseWriter, r *http.Request) {
	var def schema.EntitySchema
	if err := s.parseJSONBody(r, &def); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request body", err.Error())
		return
	}

	created, err := s.service.RegisterSchema(r.Context(), def)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusCreated, created)
}

func (s *APIServer) handleSchemaGet(w http.ResponseWriter, r *http.Request) {
	def, err := s.service.GetSchema(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, def)
}

func (s *APIServer) handleSchemaUpdate(w http.ResponseWriter, r *http.Request) {
	var def schema.EntitySchema
	if err := s.parseJSONBody(r, &def); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request body", err.Error())
		return
	}

	updated, err := s.service.UpdateSchema(r.Context(), r.PathValue("name"), def)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, updated)
}

func (s *APIServer) handleSchemaDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSchema(r.Context(), r.PathValue("name")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, nil)
}

func (s *APIServer) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		s.writeErrorResponse(w, http.StatusNotFound, "NOT_ENABLED", "Settings are not editable on this server", nil)
		return
	}
	current, err := s.settings.Settings(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, http.StatusOK, current)
}

func (s *APIServer) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		s.writeErrorResponse(w, http.StatusNotFound, "NOT_ENABLED", "Settings are not editable on this server", nil)
		return
	}
	var next settings.Settings
	if err := s.parseJSONBody(r, &next); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request body", err.Error())
		return
	}
	if err := s.settings.Save(r.Context(), next); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("Retention settings updated",
		zap.Bool("autoCleanupEnabled", next.AutoCleanupEnabled),
	)
	s.writeSuccessResponse(w, http.StatusOK, next)
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.writeErrorResponse(w, http.StatusServiceUnavailable, "UNHEALTHY", err.Error(), nil)
			return
		}
	}
	s.writeSuccessResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents streams entity change events as server-sent events. The
// entityType query parameter narrows the stream to one type.
func (s *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeErrorResponse(w, http.StatusNotFound, "NOT_ENABLED", "Event streaming is not enabled on this server", nil)
		return
	}

	topic := r.URL.Query().Get("entityType")
	if topic == "" {
		topic = notify.AllEvents
	}

	queue := make(chan notify.Event, eventBuffer)
	unsubscribe := s.events.Subscribe(topic, func(ctx context.Context, event notify.Event) error {
		select {
		case queue <- event:
			return nil
		default:
			return fmt.Errorf("event stream for %s is full, dropped %s", topic, event.Topic())
		}
	})
	defer unsubscribe()

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("Event stream cannot be flushed", zap.Error(err))
		return
	}

	s.logger.Debug("Event stream opened", zap.String("entityType", topic))
	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("Event stream closed", zap.String("entityType", topic))
			return
		case event := <-queue:
			payload, err := event.Payload()
			if err != nil {
				s.logger.Warn("Failed to encode event", zap.String("topic", event.Topic()), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Topic(), payload); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
