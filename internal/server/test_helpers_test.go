package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/aibridge"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/session"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/trips"
)

const testShareBaseURL = "https://arkiv.example/"

type stubGenerator struct {
	respond func(aibridge.Request) (string, error)
}

func (s stubGenerator) Generate(_ context.Context, request aibridge.Request) (string, error) {
	return s.respond(request)
}

type sequenceIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%s-%d", s.prefix, s.next), nil
}

type testEnv struct {
	handler   http.Handler
	documents *documents.Service
	registry  *session.Registry
	versions  map[string]int64
}

func newTestEnv(t *testing.T, generator aibridge.Generator) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	docs := newTestDocuments(t)
	registry := newTestRegistry(t, docs)

	tripIDs := &sequenceIDs{prefix: "trip"}
	handler, err := NewHTTPHandler(Dependencies{
		Sessions:     registry,
		Documents:    docs,
		Bridge:       aibridge.New(aibridge.Config{Generator: generator}),
		ShareBaseURL: testShareBaseURL,
		NewTripID: func() (trips.TripID, error) {
			raw, err := tripIDs.NewID()
			if err != nil {
				return "", err
			}
			return trips.NewTripID(raw)
		},
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testEnv{
		handler:   handler,
		documents: docs,
		registry:  registry,
		versions:  map[string]int64{},
	}
}

func newTestDocuments(t *testing.T) *documents.Service {
	t.Helper()
	dsn := fmt.Sprintf("file:arkiv_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&documents.StoredDocument{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	docs, err := documents.NewService(documents.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct documents service: %v", err)
	}
	return docs
}

func newTestRegistry(t *testing.T, docs *documents.Service) *session.Registry {
	t.Helper()
	registry, err := session.NewRegistry(session.RegistryConfig{
		Store:       docs,
		IDProvider:  &sequenceIDs{prefix: "pl"},
		PushTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close() })
	return registry
}

func (env *testEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

// mutate performs a mutating request and waits until the session has seen its
// own push come back, so consecutive pushes never overlap.
func (env *testEnv) mutate(t *testing.T, tripID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	recorder := env.request(t, method, path, body)
	if recorder.Code >= 200 && recorder.Code < 300 {
		env.versions[tripID]++
		env.waitForVersion(t, tripID, env.versions[tripID])
	}
	return recorder
}

func (env *testEnv) waitForVersion(t *testing.T, tripID string, version int64) {
	t.Helper()
	tripSession, err := env.registry.Get(context.Background(), trips.TripID(tripID))
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for tripSession.RemoteVersion() < version {
		if time.Now().After(deadline) {
			t.Fatalf("session %s never reached version %d (at %d)", tripID, version, tripSession.RemoteVersion())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (env *testEnv) createTrip(t *testing.T, destination string, duration int) tripResponsePayload {
	t.Helper()
	recorder := env.request(t, http.MethodPost, "/trips", map[string]any{"destination": destination, "duration": duration})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON[tripResponsePayload](t, recorder)
	env.versions[payload.TripID]++
	env.waitForVersion(t, payload.TripID, env.versions[payload.TripID])
	return payload
}

func (env *testEnv) addPlace(t *testing.T, tripID string, body map[string]any) trips.Place {
	t.Helper()
	recorder := env.mutate(t, tripID, http.MethodPost, "/trips/"+tripID+"/places", body)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, recorder.Code, recorder.Body.String())
	}
	return decodeJSON[placeResponsePayload](t, recorder).Place
}

func decodeJSON[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func unavailableGenerator() aibridge.Generator {
	return aibridge.NewUnavailableGenerator()
}
