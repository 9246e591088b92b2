package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/rovas-connector/internal/rovas"
	"github.com/goodtune/rovas-connector/internal/session"
	"github.com/goodtune/rovas-connector/internal/storage"
	"github.com/goodtune/rovas-connector/internal/submit"
	"github.com/goodtune/rovas-connector/internal/timetrack"
	"github.com/rs/zerolog"
)

type okTransport struct{}

func (okTransport) Post(context.Context, rovas.Endpoint, rovas.Credentials, any) (rovas.Value, error) {
	return rovas.NumberValue("321"), nil
}

// usageFailTransport succeeds until the usage record, which never arrives.
type usageFailTransport struct{}

func (usageFailTransport) Post(_ context.Context, endpoint rovas.Endpoint, _ rovas.Credentials, _ any) (rovas.Value, error) {
	if endpoint == rovas.CreateUsageRecord {
		return rovas.Value{}, errors.New("connection reset by peer")
	}
	return rovas.NumberValue("321"), nil
}

type credentialStub struct{}

func (credentialStub) Load(context.Context) (*storage.StoredCredentials, error) {
	return &storage.StoredCredentials{APIKey: "key", APIToken: "token", ProjectID: 5}, nil
}
func (credentialStub) Save(context.Context, storage.StoredCredentials) error { return nil }
func (credentialStub) Clear(context.Context) error { return nil }

type historyStub struct {
	mu      sync.Mutex
	records []storage.SubmissionRecord
}

func (h *historyStub) Record(_ context.Context, r storage.SubmissionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append([]storage.SubmissionRecord{r}, h.records...)
	return nil
}

func (h *historyStub) List(_ context.Context, limit int) ([]storage.SubmissionRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit > len(h.records) {
		limit = len(h.records)
	}
	return append([]storage.SubmissionRecord(nil), h.records[:limit]...), nil
}

func (h *historyStub) DeleteBefore(context.Context, time.Time) (int, error) { return 0, nil }

type trackedStub struct{ seconds int64 }

func (t *trackedStub) Get(context.Context) (int64, error) { return t.seconds, nil }
func (t *trackedStub) Set(_ context.Context, s int64) error { t.seconds = s; return nil }

type testServer struct {
	clock   *timetrack.TestClock
	acc     *timetrack.Accumulator
	session *session.Session
	history *historyStub
	server  *Server
}

func newTestServer(t *testing.T, unpaid bool, previous int64) *testServer {
	t.Helper()
	return newTestServerWith(t, okTransport{}, unpaid, previous)
}

func newTestServerWith(t *testing.T, transport rovas.Transport, unpaid bool, previous int64) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		clock:   &timetrack.TestClock{CurrentTime: time.Unix(5000, 0)},
		history: &historyStub{},
	}
	ts.acc = timetrack.NewAccumulator(timetrack.Config{
		Tolerance:                30 * time.Second,
		PreviouslyTrackedSeconds: previous,
		Store:                    &trackedStub{seconds: previous},
		Clock:                    ts.clock,
	}, zerolog.Nop())
	pipeline := submit.NewPipeline(submit.Options{
		Transport:   transport,
		Credentials: credentialStub{},
		History:     ts.history,
		Tracker:     ts.acc,
		Prompter:    NewPrompter(zerolog.Nop()),
		Settings:    submit.DefaultSettings(),
		NodeURL:     func(id int64) string { return "https://rovas.app/node/321" },
		Clock:       ts.clock,
	}, zerolog.Nop())
	ts.session = session.New(session.Options{
		Accumulator:  ts.acc,
		Submitter:    pipeline,
		UnpaidEditor: unpaid,
	}, zerolog.Nop())

	srv, err := NewServer(Config{ListenAddr: "127.0.0.1:0", ReferenceCacheSize: 8}, ts.session, ts.history, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { srv.cancel() })
	ts.server = srv
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, decoded
}

// work simulates ten minutes of editing followed by a pause.
func (ts *testServer) work() {
	for i := 0; i < 30; i++ {
		ts.clock.Advance(20 * time.Second)
		ts.acc.TrackChangeNow()
	}
	ts.clock.Advance(time.Minute)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, true, 0)
	rec, body := ts.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("health = %d %v", rec.Code, body)
	}
}

func TestActivityAndStatus(t *testing.T) {
	ts := newTestServer(t, true, 0)

	rec, body := ts.do(t, http.MethodPost, "/api/activity", map[string]int64{"timestamp": 5020})
	if rec.Code != http.StatusOK {
		t.Fatalf("activity = %d %v", rec.Code, body)
	}
	if body["total_seconds"].(float64) != 20 {
		t.Errorf("total_seconds = %v, want 20", body["total_seconds"])
	}

	ts.clock.Advance(30 * time.Second)
	rec, _ = ts.do(t, http.MethodPost, "/api/activity", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activity without body = %d", rec.Code)
	}

	rec, body = ts.do(t, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["interval_open"] != true || body["tolerance_seconds"].(float64) != 30 {
		t.Errorf("status = %v", body)
	}
	if body["interval_start"].(float64) != 5000 {
		t.Errorf("interval_start = %v, want 5000", body["interval_start"])
	}
}

func TestSubmitAndDuplicateReference(t *testing.T) {
	ts := newTestServer(t, true, 0)
	ts.work()

	ref := map[string]any{"reference": map[string]int64{"id": 77, "created_at": 4000}}
	rec, body := ts.do(t, http.MethodPost, "/api/submit", ref)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit = %d %v", rec.Code, body)
	}
	if body["state"] != "done" || body["completed"] != true {
		t.Errorf("result = %v", body)
	}
	if body["minutes"].(float64) != 11 {
		t.Errorf("minutes = %v, want 11", body["minutes"])
	}
	if body["work_record_url"] != "https://rovas.app/node/321" {
		t.Errorf("work_record_url = %v", body["work_record_url"])
	}

	ts.work()
	rec, body = ts.do(t, http.MethodPost, "/api/submit", ref)
	if rec.Code != http.StatusConflict || body["error"] != "already_reported" {
		t.Fatalf("duplicate submit = %d %v", rec.Code, body)
	}

	rec, body = ts.do(t, http.MethodGet, "/api/submissions?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submissions = %d", rec.Code)
	}
	if list := body["submissions"].([]any); len(list) != 1 {
		t.Errorf("submissions = %v, want 1 record", list)
	}
}

// waitReported waits until the reference is remembered as reported.
func (ts *testServer) waitReported(t *testing.T, id int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !ts.server.reported.Contains(id) {
		if time.Now().After(deadline) {
			t.Fatalf("reference %d was never remembered", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDuplicateReferenceWithoutWaiting(t *testing.T) {
	ts := newTestServer(t, true, 0)
	ts.work()

	ref := map[string]any{"reference": map[string]int64{"id": 77}}
	rec, body := ts.do(t, http.MethodPost, "/api/submit?wait=false", ref)
	if rec.Code != http.StatusAccepted || body["submission_id"] == "" {
		t.Fatalf("submit = %d %v", rec.Code, body)
	}
	ts.waitReported(t, 77)

	ts.work()
	rec, body = ts.do(t, http.MethodPost, "/api/submit", ref)
	if rec.Code != http.StatusConflict || body["error"] != "already_reported" {
		t.Fatalf("second submit = %d %v", rec.Code, body)
	}

	ts.history.mu.Lock()
	defer ts.history.mu.Unlock()
	if len(ts.history.records) != 1 {
		t.Errorf("history has %d records, want 1", len(ts.history.records))
	}
}

func TestDuplicateReferenceAfterFailedUsageRecord(t *testing.T) {
	ts := newTestServerWith(t, usageFailTransport{}, true, 0)
	ts.work()

	ref := map[string]any{"reference": map[string]int64{"id": 88}}
	rec, body := ts.do(t, http.MethodPost, "/api/submit", ref)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit = %d %v", rec.Code, body)
	}
	if body["state"] != "done" || body["completed"] != false {
		t.Fatalf("result = %v, want done without a usage record", body)
	}

	ts.work()
	rec, body = ts.do(t, http.MethodPost, "/api/submit", ref)
	if rec.Code != http.StatusConflict || body["error"] != "already_reported" {
		t.Fatalf("second submit = %d %v", rec.Code, body)
	}
}

func TestSubmitErrors(t *testing.T) {
	t.Run("nothing to report", func(t *testing.T) {
		ts := newTestServer(t, true, 0)
		rec, body := ts.do(t, http.MethodPost, "/api/submit", nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("submit = %d %v", rec.Code, body)
		}
	})

	t.Run("paid editor", func(t *testing.T) {
		ts := newTestServer(t, false, 0)
		ts.work()
		rec, body := ts.do(t, http.MethodPost, "/api/submit", nil)
		if rec.Code != http.StatusOK || body["reported"] != false {
			t.Fatalf("submit = %d %v", rec.Code, body)
		}
		if ts.acc.Total() != 0 {
			t.Errorf("total = %d, want 0", ts.acc.Total())
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		ts := newTestServer(t, true, 0)
		req := httptest.NewRequest(http.MethodPost, "/api/submit", bytes.NewReader([]byte("{")))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("submit = %d", rec.Code)
		}
	})
}

func TestReset(t *testing.T) {
	ts := newTestServer(t, true, 0)

	rec, body := ts.do(t, http.MethodPost, "/api/reset", map[string]int64{"minutes": 15})
	if rec.Code != http.StatusOK || body["total_seconds"].(float64) != 900 {
		t.Fatalf("reset = %d %v", rec.Code, body)
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/reset", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("reset without minutes = %d, want 400", rec.Code)
	}
}

func TestPrevious(t *testing.T) {
	ts := newTestServer(t, true, 1200)

	rec, body := ts.do(t, http.MethodGet, "/api/previous", nil)
	if rec.Code != http.StatusOK || body["minutes"].(float64) != 20 {
		t.Fatalf("previous = %d %v", rec.Code, body)
	}

	rec, body = ts.do(t, http.MethodPost, "/api/previous", map[string]bool{"add": true})
	if rec.Code != http.StatusOK || body["total_seconds"].(float64) != 1200 {
		t.Fatalf("restore = %d %v", rec.Code, body)
	}

	_, body = ts.do(t, http.MethodGet, "/api/previous", nil)
	if body["minutes"].(float64) != 0 {
		t.Errorf("previous after restore = %v, want 0", body["minutes"])
	}
}

func TestSubmissionsInvalidLimit(t *testing.T) {
	ts := newTestServer(t, true, 0)
	rec, _ := ts.do(t, http.MethodGet, "/api/submissions?limit=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("submissions = %d, want 400", rec.Code)
	}
}
