// ABOUTME: HTTP handler tests for the status server via httptest.
package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dockwright/dockwright/workflow"
)

func testServer(t *testing.T) (*Server, *Tracker) {
	t.Helper()
	tracker := NewTracker("01TEST", "/srv/app")
	return New("127.0.0.1:0", tracker), tracker
}

func TestStatusEndpoint(t *testing.T) {
	srv, tracker := testServer(t)
	tracker.HandleEvent(workflow.EngineEvent{Type: workflow.EventStageStarted, Stage: workflow.StageGenerate})
	tracker.HandleEvent(workflow.EngineEvent{Type: workflow.EventRetryCycle})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap StatusSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if snap.RunID != "01TEST" || snap.Target != "/srv/app" {
		t.Errorf("snapshot identity = %q %q", snap.RunID, snap.Target)
	}
	if snap.Stage != workflow.StageGenerate {
		t.Errorf("stage = %q, want generate", snap.Stage)
	}
	if snap.Retries != 1 {
		t.Errorf("retries = %d, want 1", snap.Retries)
	}
	if snap.Done {
		t.Error("run should not be done yet")
	}
	if snap.EventCount != 2 {
		t.Errorf("event count = %d, want 2", snap.EventCount)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, tracker := testServer(t)
	for i := 0; i < 5; i++ {
		tracker.HandleEvent(workflow.EngineEvent{Type: workflow.EventStageStarted, Stage: workflow.StageScan})
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?n=3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var events []workflow.EngineEvent
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatalf("decoding events: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("len(events) = %d, want 3", len(events))
	}
}

func TestEventsEndpointRejectsBadN(t *testing.T) {
	srv, _ := testServer(t)
	for _, q := range []string{"n=0", "n=-2", "n=abc"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?"+q, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestReportUnavailableWhileInFlight(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestReportAfterCompletion(t *testing.T) {
	srv, tracker := testServer(t)
	tracker.SetResult(&workflow.RunResult{
		Status: workflow.RunSucceeded,
		State: &workflow.RunState{
			Target:          "/srv/app",
			MaxRetries:      3,
			CurrentArtifact: "FROM scratch\n",
		},
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Dockerfile generation succeeded") {
		t.Error("report body missing headline")
	}

	// Status now reflects the terminal state.
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var snap StatusSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if !snap.Done || snap.Status != "succeeded" {
		t.Errorf("done=%v status=%q, want terminal success", snap.Done, snap.Status)
	}
}

func TestRootRedirectsToReport(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/report" {
		t.Errorf("location = %q, want /report", loc)
	}
}
