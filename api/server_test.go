package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/asaidimu/anansi-fixtures/api"
	"github.com/asaidimu/anansi-fixtures/core/notify"
	"github.com/asaidimu/anansi-fixtures/core/persistence"
	"github.com/asaidimu/anansi-fixtures/core/service"
	"github.com/asaidimu/anansi-fixtures/core/settings"
	"github.com/asaidimu/anansi-fixtures/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

type harness struct {
	handler http.Handler
	hub     *notify.Hub
}

func newHarness(t *testing.T, opts api.Options) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	interactor := sqlite.NewSQLiteInteractor(db, nil, nil, nil)
	registry, err := persistence.NewRegistry(ctx, interactor, nil)
	require.NoError(t, err)
	repo := persistence.NewRepository(interactor, registry, nil)

	hub, err := notify.NewHub(nil)
	require.NoError(t, err)

	store, err := settings.NewStore(ctx, interactor, settings.Settings{}, nil)
	require.NoError(t, err)

	svc := service.New(registry, repo, service.Options{Notifier: hub})
	if opts.Settings == nil {
		opts.Settings = store
	}
	if opts.Events == nil {
		opts.Events = hub
	}
	if opts.Health == nil {
		opts.Health = db.PingContext
	}
	return &harness{handler: api.NewAPIServer(svc, opts).Handler(), hub: hub}
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

const widgetSchema = `{
	"entityType": "Widget",
	"fields": [
		{"name": "sku", "type": "string", "required": true},
		{"name": "size", "type": "number"}
	],
	"filterableFields": ["sku", "size"],
	"uniqueFields": ["sku"]
}`

func TestSchemaRoutes(t *testing.T) {
	h := newHarness(t, api.Options{})

	code, env := h.do(t, http.MethodPost, "/schemas", widgetSchema)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, env.Success)
	created := decode[map[string]any](t, env.Data)
	assert.Equal(t, "Widget", created["entityType"])
	assert.NotEmpty(t, created["id"])

	code, env = h.do(t, http.MethodPost, "/schemas", widgetSchema)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	code, env = h.do(t, http.MethodPost, "/schemas", `{"entityType": "", "fields": []}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_DEFINITION", env.Error.Code)

	code, env = h.do(t, http.MethodPost, "/schemas", `{"entityType": "X", "bogus": 1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_JSON", env.Error.Code)

	code, env = h.do(t, http.MethodGet, "/schemas", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]map[string]any](t, env.Data), 1)

	code, env = h.do(t, http.MethodPut, "/schemas/Widget", `{
		"entityType": "Widget",
		"fields": [
			{"name": "sku", "type": "string", "required": true},
			{"name": "size", "type": "number"},
			{"name": "color", "type": "string"}
		]
	}`)
	require.Equal(t, http.StatusOK, code)
	updated := decode[map[string]any](t, env.Data)
	assert.Len(t, updated["fields"], 3)

	code, _ = h.do(t, http.MethodDelete, "/schemas/Widget", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = h.do(t, http.MethodGet, "/schemas/Widget", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestEntityLifecycle(t *testing.T) {
	h := newHarness(t, api.Options{})
	code, _ := h.do(t, http.MethodPost, "/schemas", widgetSchema)
	require.Equal(t, http.StatusCreated, code)

	code, env := h.do(t, http.MethodPost, "/entities/Widget?environment=qa", map[string]any{
		"fields": map[string]any{"sku": "W-1", "size": 3},
	})
	require.Equal(t, http.StatusCreated, code, string(env.Data))
	first := decode[map[string]any](t, env.Data)
	assert.Equal(t, "qa", first["environment"])
	assert.Equal(t, false, first["isConsumed"])
	id := first["id"].(string)

	code, env = h.do(t, http.MethodPost, "/entities/Widget", map[string]any{
		"fields":      map[string]any{"sku": "W-2", "size": 4.5},
		"environment": "staging",
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "staging", decode[map[string]any](t, env.Data)["environment"])

	code, env = h.do(t, http.MethodGet, "/entities/Widget?environment=qa", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]map[string]any](t, env.Data), 1)

	code, env = h.do(t, http.MethodGet, "/entities/Widget", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]map[string]any](t, env.Data), 2)

	var skus []any
	for _, offset := range []string{"0", "1", "2"} {
		code, env = h.do(t, http.MethodGet, "/entities/Widget?limit=1&offset="+offset, nil)
		require.Equal(t, http.StatusOK, code)
		for _, e := range decode[[]map[string]any](t, env.Data) {
			skus = append(skus, e["fields"].(map[string]any)["sku"])
		}
	}
	assert.ElementsMatch(t, []any{"W-1", "W-2"}, skus, "pages cover each record once")

	code, env = h.do(t, http.MethodGet, "/entities/Widget/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	fields := decode[map[string]any](t, env.Data)["fields"].(map[string]any)
	assert.Equal(t, "W-1", fields["sku"])

	code, env = h.do(t, http.MethodPut, "/entities/Widget/"+id, map[string]any{
		"fields": map[string]any{"sku": "W-1", "size": 7},
	})
	require.Equal(t, http.StatusOK, code)
	fields = decode[map[string]any](t, env.Data)["fields"].(map[string]any)
	assert.EqualValues(t, 7, fields["size"])

	code, env = h.do(t, http.MethodGet, "/entities/Widget/filter/size/7", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]map[string]any](t, env.Data), 1)

	code, env = h.do(t, http.MethodDelete, "/entities/Widget/filter/sku/W-2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, decode[api.CountResponse](t, env.Data).Count)

	code, _ = h.do(t, http.MethodDelete, "/entities/Widget/"+id, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = h.do(t, http.MethodGet, "/entities/Widget/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestEntityErrors(t *testing.T) {
	h := newHarness(t, api.Options{})
	code, _ := h.do(t, http.MethodPost, "/schemas", widgetSchema)
	require.Equal(t, http.StatusCreated, code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing required field", http.MethodPost, "/entities/Widget", map[string]any{"fields": map[string]any{"size": 1}}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"reserved field", http.MethodPost, "/entities/Widget", map[string]any{"fields": map[string]any{"sku": "A", "createdAt": "x"}}, http.StatusBadRequest, "RESERVED_FIELD_NAME"},
		{"unknown schema", http.MethodPost, "/entities/Gadget", map[string]any{"fields": map[string]any{}}, http.StatusNotFound, "NOT_FOUND"},
		{"malformed id", http.MethodGet, "/entities/Widget/not-a-uuid", nil, http.StatusBadRequest, "INVALID_ID"},
		{"field not filterable", http.MethodGet, "/entities/Widget/filter/color/red", nil, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad filter value", http.MethodGet, "/entities/Widget/filter/size/big", nil, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"non-finite filter value", http.MethodGet, "/entities/Widget/filter/size/NaN", nil, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad limit", http.MethodGet, "/entities/Widget?limit=ten", nil, http.StatusBadRequest, "INVALID_PAGINATION"},
		{"negative offset", http.MethodGet, "/entities/Widget/filter/size/1?offset=-1", nil, http.StatusBadRequest, "INVALID_PAGINATION"},
		{"nothing to claim", http.MethodGet, "/entities/Widget/next", nil, http.StatusNotFound, "NONE_AVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, code)
			require.NotNil(t, env.Error)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}

	t.Run("validation issues are returned as details", func(t *testing.T) {
		_, env := h.do(t, http.MethodPost, "/entities/Widget", map[string]any{"fields": map[string]any{"sku": 5}})
		issues := decode[[]map[string]any](t, env.Error.Details)
		require.Len(t, issues, 1)
		assert.Equal(t, "TYPE_MISMATCH", issues[0]["code"])
		assert.Equal(t, "sku", issues[0]["path"])
	})

	t.Run("duplicate unique value", func(t *testing.T) {
		body := map[string]any{"fields": map[string]any{"sku": "dup"}}
		code, _ := h.do(t, http.MethodPost, "/entities/Widget", body)
		require.Equal(t, http.StatusCreated, code)
		code, env := h.do(t, http.MethodPost, "/entities/Widget", body)
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, "CONFLICT", env.Error.Code)
	})
}

func TestClaimAndReset(t *testing.T) {
	h := newHarness(t, api.Options{})
	code, _ := h.do(t, http.MethodPost, "/schemas", widgetSchema)
	require.Equal(t, http.StatusCreated, code)

	for _, sku := range []string{"A", "B"} {
		code, _ := h.do(t, http.MethodPost, "/entities/Widget?environment=qa", map[string]any{"fields": map[string]any{"sku": sku}})
		require.Equal(t, http.StatusCreated, code)
	}

	claimed := map[string]bool{}
	for range 2 {
		code, env := h.do(t, http.MethodGet, "/entities/Widget/next?environment=qa", nil)
		require.Equal(t, http.StatusOK, code)
		entity := decode[map[string]any](t, env.Data)
		assert.Equal(t, true, entity["isConsumed"])
		claimed[entity["id"].(string)] = true
	}
	assert.Len(t, claimed, 2)

	code, env := h.do(t, http.MethodGet, "/entities/Widget/next?environment=qa", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NONE_AVAILABLE", env.Error.Code)

	code, env = h.do(t, http.MethodPost, "/entities/Widget/reset-all?environment=qa", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, decode[api.CountResponse](t, env.Data).Count)

	code, _ = h.do(t, http.MethodGet, "/entities/Widget/next?environment=qa", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestCollectionRoutes(t *testing.T) {
	h := newHarness(t, api.Options{})
	code, _ := h.do(t, http.MethodPost, "/schemas", widgetSchema)
	require.Equal(t, http.StatusCreated, code)

	code, env := h.do(t, http.MethodGet, "/entities", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]string](t, env.Data))

	code, _ = h.do(t, http.MethodPost, "/entities/Widget", map[string]any{"fields": map[string]any{"sku": "A"}})
	require.Equal(t, http.StatusCreated, code)

	_, env = h.do(t, http.MethodGet, "/entities", nil)
	assert.Equal(t, []string{"Widget"}, decode[[]string](t, env.Data))

	code, _ = h.do(t, http.MethodDelete, "/entities/Widget", nil)
	require.Equal(t, http.StatusOK, code)

	_, env = h.do(t, http.MethodGet, "/entities/Widget", nil)
	assert.Empty(t, decode[[]map[string]any](t, env.Data))
}

func TestSettingsRoutes(t *testing.T) {
	h := newHarness(t, api.Options{})

	code, env := h.do(t, http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decode[settings.Settings](t, env.Data).AutoCleanupEnabled)

	code, _ = h.do(t, http.MethodPut, "/settings", `{"autoCleanupEnabled": true, "entityRetentionDays": 30}`)
	require.Equal(t, http.StatusOK, code)

	_, env = h.do(t, http.MethodGet, "/settings", nil)
	saved := decode[settings.Settings](t, env.Data)
	assert.True(t, saved.AutoCleanupEnabled)
	require.NotNil(t, saved.EntityRetentionDays)
	assert.Equal(t, 30, *saved.EntityRetentionDays)
	assert.Nil(t, saved.SchemaRetentionDays)

	code, env = h.do(t, http.MethodPut, "/settings", `{"schemaRetentionDays": -1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, api.Options{})
	code, env := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	down := newHarness(t, api.Options{Health: func(ctx context.Context) error { return errors.New("database is closed") }})
	code, env = down.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "UNHEALTHY", env.Error.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, api.Options{})
	req := httptest.NewRequest(http.MethodOptions, "/entities/Widget", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestEventStream(t *testing.T) {
	h := newHarness(t, api.Options{})
	srv := httptest.NewServer(h.handler)
	t.Cleanup(srv.Close)

	code, _ := h.do(t, http.MethodPost, "/schemas", widgetSchema)
	require.Equal(t, http.StatusCreated, code)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?entityType=Widget", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return h.hub.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	code, _ = h.do(t, http.MethodPost, "/entities/Widget", map[string]any{"fields": map[string]any{"sku": "S-1"}})
	require.Equal(t, http.StatusCreated, code)

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimPrefix(line, "data: ")
		}
		if dataLine != "" {
			break
		}
	}
	assert.Equal(t, "entities.Widget.created", eventLine)

	var event notify.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &event))
	assert.Equal(t, notify.EntityCreated, event.Type)
	assert.Equal(t, "Widget", event.EntityType)
	assert.NotEmpty(t, event.EntityID)
}
