// Package testutil provides common test utilities and helpers for MetaCoach tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/MetaCoach/internal/analysis"
	"github.com/BTreeMap/MetaCoach/internal/api"
	"github.com/BTreeMap/MetaCoach/internal/coach"
	"github.com/BTreeMap/MetaCoach/internal/models"
	"github.com/BTreeMap/MetaCoach/internal/store"
)

// NewTestServer creates an API server on st with heuristic-only analysis and
// no conversational service. A nil st gets a fresh in-memory store.
func NewTestServer(st store.Store) *api.Server {
	if st == nil {
		st = store.NewInMemoryStore()
	}
	orch := analysis.NewOrchestrator(nil, analysis.NewHeuristicAnalyzer(nil))
	return api.NewServer(st, coach.NewCoach(orch, nil, st), nil)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != string(expectedStatus) {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Serve runs req against h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// SeedLifeWheel stores a life wheel with one rated and one unrated area.
func SeedLifeWheel(t *testing.T, st store.Store, userID string) {
	t.Helper()
	areas := []models.LifeWheelArea{
		{Name: "Gesundheit", CurrentValue: 5, TargetValue: 8},
		{Name: "Finanzen", CurrentValue: 0, TargetValue: 7},
	}
	if err := st.SaveLifeWheel(userID, areas); err != nil {
		t.Fatalf("failed to seed life wheel: %v", err)
	}
}

// AssertAnswer checks a stored answer value.
func AssertAnswer(t *testing.T, st store.Store, userID, moduleID, key, expected string) {
	t.Helper()
	v, ok, err := st.GetAnswer(userID, moduleID, key)
	if err != nil {
		t.Fatalf("failed to read answer %s: %v", key, err)
	}
	if !ok {
		t.Errorf("answer %s not stored", key)
		return
	}
	if v != expected {
		t.Errorf("answer %s: expected %q, got %q", key, expected, v)
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
