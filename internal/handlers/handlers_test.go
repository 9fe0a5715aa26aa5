package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/common/pagination"
	"roomgraph/internal/events"
	"roomgraph/internal/handlers"
	"roomgraph/internal/roomgraph"
	"roomgraph/internal/storage"
	"roomgraph/internal/transport/memory"
)

// MockStore records the calls the handlers make on the session store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Save(ctx context.Context, rec *storage.SessionRecord) error {
	return m.Called(rec).Error(0)
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *MockStore) List(ctx context.Context) ([]*storage.SessionRecord, error) {
	args := m.Called()
	recs, _ := args.Get(0).([]*storage.SessionRecord)
	return recs, args.Error(1)
}

func (m *MockStore) Health(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockStore) Close() error { return nil }

type fixture struct {
	service   *roomgraph.Service
	transport *memory.Transport
	router    *mux.Router
}

func newFixture(t *testing.T, store storage.Store) *fixture {
	t.Helper()

	tr, err := memory.NewTransport(memory.DefaultConfig())
	require.NoError(t, err)

	config := roomgraph.DefaultConfig()
	config.StartRetry.MaxAttempts = 1
	svc := roomgraph.NewService(tr, events.JSONCodec{}, config, roomgraph.WithLogger(logging.Nop()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Close(ctx)
		tr.Close()
	})

	var h *handlers.Handlers
	if store == nil {
		h = handlers.New(svc, tr, nil)
	} else {
		h = handlers.New(svc, tr, store)
	}
	router := mux.NewRouter()
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	h.RegisterAPI(router.PathPrefix("/api").Subrouter())

	return &fixture{service: svc, transport: tr, router: router}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateSession(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		wantRule string
	}{
		{
			name:     "match all",
			body:     `{"src_room": "a", "dst_room": "b"}`,
			status:   http.StatusCreated,
			wantRule: "CONTAINS()",
		},
		{
			name:     "rule tree",
			body:     `{"src_room": "a", "dst_room": "b", "rule": {"contains": {"type": "malware"}}}`,
			status:   http.StatusCreated,
			wantRule: "CONTAINS(type=malware)",
		},
		{
			name:     "rule text",
			body:     `{"src_room": "a", "dst_room": "b", "rule": "NOT(CONTAINS(type=spam))"}`,
			status:   http.StatusCreated,
			wantRule: "NOT(CONTAINS(type=spam))",
		},
		{
			name:     "asns",
			body:     `{"src_room": "a", "dst_room": "b", "asns": ["3"]}`,
			status:   http.StatusCreated,
			wantRule: "OR(AND(OR(CONTAINS(asn=3))))",
		},
		{name: "rule and asns", body: `{"src_room": "a", "dst_room": "b", "rule": "CONTAINS()", "asns": ["3"]}`, status: http.StatusBadRequest},
		{name: "bad asn", body: `{"src_room": "a", "dst_room": "b", "asns": ["x"]}`, status: http.StatusBadRequest},
		{name: "missing destination", body: `{"src_room": "a"}`, status: http.StatusBadRequest},
		{name: "bad room", body: `{"src_room": "a b", "dst_room": "c"}`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"src_room": "a", "dst_room": "b", "colour": "red"}`, status: http.StatusBadRequest},
		{name: "bad rule", body: `{"src_room": "a", "dst_room": "b", "rule": "CONTAINS("}`, status: http.StatusBadRequest},
		{name: "persist without store", body: `{"src_room": "a", "dst_room": "b", "persist": true}`, status: http.StatusBadRequest},
		{name: "not json", body: `nope`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.do(t, http.MethodPost, "/api/sessions", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusCreated {
				assert.Contains(t, rec.Body.String(), `"error"`)
				assert.Empty(t, f.service.Sessions())
				return
			}

			var resp handlers.SessionResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.ID)
			assert.Equal(t, tt.wantRule, resp.Rule)
			assert.Equal(t, "running", resp.State)
			assert.False(t, resp.Persisted)
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/sessions", map[string]interface{}{
		"src_room": "feeds",
		"dst_room": "malware",
		"rule":     "CONTAINS(type=malware)",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created handlers.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list pagination.Page[roomgraph.SessionInfo]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.TotalResults)
	require.Len(t, list.Results, 1)
	assert.Equal(t, created.ID, list.Results[0].ID)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/rooms/feeds/routes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var routes []handlers.RouteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &routes))
	require.Len(t, routes, 1)
	assert.Equal(t, "malware", routes[0].Destination)
	assert.Equal(t, []string{"CONTAINS(type=malware)"}, routes[0].Rules)

	rec = f.do(t, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rooms []roomgraph.RoomInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rooms))
	assert.Len(t, rooms, 2)

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/rooms/feeds/routes", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublishEventIsForwarded(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/sessions", `{"src_room": "in", "dst_room": "out", "rule": "CONTAINS(type=malware)"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	sub, err := f.transport.Join(context.Background(), "out")
	require.NoError(t, err)
	defer sub.Leave(context.Background())

	rec = f.do(t, http.MethodPost, "/api/rooms/in/events", `{"type": "spam"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/rooms/in/events", `{"type": "malware", "ip": ["10.0.0.1"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case msg := <-sub.Messages():
		e, err := events.JSONCodec{}.Decode(msg.Body)
		require.NoError(t, err)
		assert.Equal(t, "malware", e.Value("type", ""))
		assert.Equal(t, "10.0.0.1", e.Value("ip", ""))
	case <-time.After(2 * time.Second):
		t.Fatal("event not forwarded")
	}

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message %s", msg.Body)
	case <-time.After(100 * time.Millisecond):
	}

	rec = f.do(t, http.MethodPost, "/api/rooms/in/events", `["not", "an", "event"]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestRule(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name    string
		body    string
		status  int
		matches bool
	}{
		{
			name:    "netblock match",
			body:    `{"rule": {"netblock": "10.0.0.0/8"}, "event": {"ip": "10.1.2.3"}}`,
			status:  http.StatusOK,
			matches: true,
		},
		{
			name:   "netblock miss",
			body:   `{"rule": "NETBLOCK(10.0.0.0/8)", "event": {"ip": "192.168.0.1"}}`,
			status: http.StatusOK,
		},
		{
			name:    "empty event against not",
			body:    `{"rule": "NOT(CONTAINS(type=spam))"}`,
			status:  http.StatusOK,
			matches: true,
		},
		{name: "missing rule", body: `{"event": {"a": "b"}}`, status: http.StatusBadRequest},
		{name: "bad rule", body: `{"rule": {"xor": []}}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/rules/test", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			var resp handlers.TestRuleResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.matches, resp.Matches)
			assert.NotEmpty(t, resp.Rule)
		})
	}
}

func TestPersistedSessions(t *testing.T) {
	store := &MockStore{}
	f := newFixture(t, store)

	store.On("Save", mock.MatchedBy(func(rec *storage.SessionRecord) bool {
		return rec.Source == "a" && rec.Destination == "b" && rec.Rule == "CONTAINS(asn=3)"
	})).Return(nil).Once()

	rec := f.do(t, http.MethodPost, "/api/sessions", `{"src_room": "a", "dst_room": "b", "rule": "CONTAINS(asn=3)", "persist": true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created handlers.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Persisted)

	store.On("Delete", created.ID).Return(nil).Once()
	rec = f.do(t, http.MethodDelete, "/api/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	store.AssertExpectations(t)
}

func TestPersistFailureStopsSession(t *testing.T) {
	store := &MockStore{}
	f := newFixture(t, store)
	store.On("Save", mock.Anything).Return(errors.New("disk full"))

	rec := f.do(t, http.MethodPost, "/api/sessions", `{"src_room": "a", "dst_room": "b", "persist": true}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, f.service.Sessions())
}

func TestPersistFailureStopsSessionAfterRequestEnds(t *testing.T) {
	store := &MockStore{}
	f := newFixture(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.On("Save", mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(context.Canceled)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions",
		strings.NewReader(`{"src_room": "a", "dst_room": "b", "persist": true}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, f.service.Sessions())
	store.AssertExpectations(t)
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy without store", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "memory", resp.Transport)
		assert.Equal(t, "ok", resp.Checks["transport"])
		assert.NotContains(t, resp.Checks, "storage")
	})

	t.Run("unhealthy store", func(t *testing.T) {
		store := &MockStore{}
		store.On("Health").Return(errors.New("connection refused"))
		f := newFixture(t, store)

		rec := f.do(t, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp handlers.HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "connection refused", resp.Checks["storage"])
	})

	t.Run("closed transport", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.transport.Close())
		rec := f.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
