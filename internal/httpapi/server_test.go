package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"remindbot/internal/calendar"
	"remindbot/internal/dispatch"
	"remindbot/internal/eventbus"
	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type stubChannel struct{}

func (stubChannel) Name() string                                  { return "stub" }
func (stubChannel) State(context.Context) transport.ConnState     { return transport.StateConnected }
func (stubChannel) SendToAll(context.Context, []string, string) error { return nil }

func newTestServer(t *testing.T, token string) (*Server, *schedule.Store) {
	t.Helper()
	dir := t.TempDir()
	factory := schedule.FactoryDefaults{
		Timezone: "UTC",
		DailyTimes: map[string]*string{
			"1": schedule.TimeRef("16:00"), "2": schedule.TimeRef("16:00"),
			"3": schedule.TimeRef("16:00"), "4": schedule.TimeRef("16:00"),
			"5": schedule.TimeRef("16:00"), "6": nil, "7": nil,
		},
		Version: "test-v1",
	}
	store := schedule.NewStore(filepath.Join(dir, "schedule.json"), factory, logx.Nop())
	cal := calendar.New(filepath.Join(dir, "calendar.json"), logx.Nop(), nil)
	bus := eventbus.New()
	d := dispatch.New(dispatch.Config{Recipients: []string{"1"}}, store, cal, stubChannel{}, nil, bus, logx.Nop())
	srv := New(Config{Token: token}, store, cal, d, stubChannel{}, nil, nil, nil, bus, logx.Nop())
	return srv, store
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTokenRequired(t *testing.T) {
	srv, _ := newTestServer(t, "sekrit")
	h := srv.Router()

	if rec := doJSON(t, h, "GET", "/api/schedule", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: code = %d", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/schedule", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: code = %d", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/schedule", "sekrit", ""); rec.Code != http.StatusOK {
		t.Fatalf("good token: code = %d", rec.Code)
	}
	// Health and the public feed stay open.
	if rec := doJSON(t, h, "GET", "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: code = %d", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/logs/public", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("public logs: code = %d", rec.Code)
	}
}

func TestPatchScheduleValidation(t *testing.T) {
	srv, store := newTestServer(t, "")
	h := srv.Router()

	rec := doJSON(t, h, "PATCH", "/api/schedule", "", `{"dailyTimes":{"1":"25:99"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad time: code = %d, body = %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, "PATCH", "/api/schedule", "", `{"paused":true,"dailyTimes":{"1":"17:30"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid patch: code = %d, body = %s", rec.Code, rec.Body)
	}
	var doc schedule.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if !doc.Paused || doc.DailyTime(1) != "17:30" {
		t.Fatalf("doc = %+v", doc)
	}

	persisted, err := store.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !persisted.Paused {
		t.Fatal("patch not persisted")
	}
}

func TestOverrideRoundTripAndPreview(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Router()

	day := time.Now().UTC().AddDate(0, 0, 2)
	date := day.Format("02-01-2006")
	rec := doJSON(t, h, "POST", "/api/schedule/overrides", "", `{"date":"`+date+`","time":"09:15","note":"board meeting"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add override: code = %d, body = %s", rec.Code, rec.Body)
	}

	// Preview one minute before the override instant must pick it.
	ref := day.Format("2006-01-02") + "T09:14:00Z"
	rec = doJSON(t, h, "GET", "/api/next-run?reference="+ref, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("next-run: code = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		Target       *time.Time `json:"target"`
		FromOverride bool       `json:"fromOverride"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Target == nil || !resp.FromOverride {
		t.Fatalf("preview = %+v, want override run", resp)
	}

	rec = doJSON(t, h, "DELETE", "/api/schedule/overrides/"+date, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("remove override: code = %d", rec.Code)
	}
	var doc schedule.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.ManualOverrides) != 0 {
		t.Fatalf("overrides = %+v", doc.ManualOverrides)
	}
}

func TestCalendarRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Router()

	rec := doJSON(t, h, "PUT", "/api/calendar", "", `{"holidays":["2026-08-17"],"collectiveLeave":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put calendar: code = %d, body = %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, "GET", "/api/calendar", "", "")
	var doc calendar.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Holidays) != 1 || doc.Holidays[0] != "17-08-2026" {
		t.Fatalf("holidays = %v", doc.Holidays)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doJSON(t, srv.Router(), "GET", "/api/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: code = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Channel != string(transport.StateConnected) {
		t.Fatalf("channel = %q", resp.Channel)
	}
}

func TestEventsStreamDeliversScheduleUpdates(t *testing.T) {
	srv, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// The subscription is live once the headers arrived; mutate the schedule
	// and expect the update on the stream.
	patch, err := http.NewRequest("PATCH", ts.URL+"/api/schedule", strings.NewReader(`{"paused":true}`))
	if err != nil {
		t.Fatal(err)
	}
	patch.Header.Set("Content-Type", "application/json")
	pr, err := http.DefaultClient.Do(patch)
	if err != nil {
		t.Fatal(err)
	}
	pr.Body.Close()
	if pr.StatusCode != http.StatusOK {
		t.Fatalf("patch: code = %d", pr.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Text() == "event: "+eventbus.TypeScheduleUpdated {
			return
		}
	}
	t.Fatalf("schedule update never arrived on the stream: %v", scanner.Err())
}

func TestMutationsRecordAudit(t *testing.T) {
	dir := t.TempDir()
	factory := schedule.FactoryDefaults{
		Timezone:   "UTC",
		DailyTimes: map[string]*string{"1": schedule.TimeRef("16:00")},
		Version:    "test-v1",
	}
	store := schedule.NewStore(filepath.Join(dir, "schedule.json"), factory, logx.Nop())
	cal := calendar.New(filepath.Join(dir, "calendar.json"), logx.Nop(), nil)
	audit, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "remindbot")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer audit.Close()
	d := dispatch.New(dispatch.Config{Recipients: []string{"1"}}, store, cal, stubChannel{}, nil, nil, logx.Nop())
	srv := New(Config{}, store, cal, d, stubChannel{}, audit, nil, nil, nil, logx.Nop())
	h := srv.Router()

	rec := doJSON(t, h, "PATCH", "/api/schedule", "", `{"paused":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: code = %d, body = %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, "GET", "/api/audit", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: code = %d", rec.Code)
	}
	var entries []storage.AuditEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != storage.ActionScheduleSet || !entries[0].OK {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestPublicStatusOpenAndSanitized(t *testing.T) {
	srv, _ := newTestServer(t, "sekrit")
	rec := doJSON(t, srv.Router(), "GET", "/api/status/public", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("public status: code = %d", rec.Code)
	}
	var resp publicStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.ChannelReady {
		t.Fatal("stub channel should report ready")
	}
	if strings.Contains(rec.Body.String(), "note") {
		t.Fatalf("public view leaks override detail: %s", rec.Body)
	}
}
