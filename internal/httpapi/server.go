// Package httpapi exposes the admin surface: schedule and calendar
// management, next-run preview, status, and the audience log feed.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"remindbot/internal/calendar"
	"remindbot/internal/dispatch"
	"remindbot/internal/eventbus"
	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type Config struct {
	Addr           string
	Token          string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8380"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
}

// HeartbeatSource reports when the last liveness tick ran.
type HeartbeatSource interface {
	LastHeartbeat() time.Time
}

type Server struct {
	cfg        Config
	log        logx.Logger
	store      *schedule.Store
	cal        *calendar.Service
	dispatcher *dispatch.Service
	channel    transport.Channel
	audit      storage.Store
	feed       *logx.Feed
	heartbeat  HeartbeatSource
	bus        eventbus.Bus

	started time.Time
	srv     *http.Server
}

func New(cfg Config, store *schedule.Store, cal *calendar.Service, d *dispatch.Service, ch transport.Channel, audit storage.Store, feed *logx.Feed, hb HeartbeatSource, bus eventbus.Bus, log logx.Logger) *Server {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:        cfg,
		log:        log,
		store:      store,
		cal:        cal,
		dispatcher: d,
		channel:    ch,
		audit:      audit,
		feed:       feed,
		heartbeat:  hb,
		bus:        bus,
		started:    time.Now(),
	}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info("admin api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin api stopped", logx.Err(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-User"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	// The public surface mirrors what a read-only status page shows; no
	// token, no error detail, no override metadata beyond the next target.
	r.Get("/api/logs/public", s.handleLogs(logx.AudiencePublic))
	r.Get("/api/status/public", s.handlePublicStatus)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)

		r.Get("/schedule", s.handleGetSchedule)
		r.Patch("/schedule", s.handlePatchSchedule)
		r.Post("/schedule/overrides", s.handleAddOverride)
		r.Delete("/schedule/overrides/{date}", s.handleRemoveOverride)

		r.Get("/next-run", s.handleNextRun)
		r.Get("/status", s.handleStatus)

		r.Get("/calendar", s.handleGetCalendar)
		r.Put("/calendar", s.handlePutCalendar)

		r.Get("/logs", s.handleLogs(logx.AudienceAdmin))
		r.Get("/audit", s.handleAudit)
		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	return s.cfg.AllowedOrigins
}

// requireToken enforces the bearer token when one is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
				writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ---- schedule ----

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Read()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type schedulePatch struct {
	Timezone   *string            `json:"timezone,omitempty"`
	Paused     *bool              `json:"paused,omitempty"`
	DailyTimes map[string]*string `json:"dailyTimes,omitempty"`
}

func (s *Server) handlePatchSchedule(w http.ResponseWriter, r *http.Request) {
	var body schedulePatch
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := actorFrom(r)
	doc, err := s.store.Set(schedule.Patch{
		Timezone:   body.Timezone,
		Paused:     body.Paused,
		DailyTimes: body.DailyTimes,
	}, actor)
	if err != nil {
		writeError(w, statusFor(err), err)
		s.recordAudit(r.Context(), storage.AuditEntry{Actor: actor, Action: storage.ActionScheduleSet, Error: err.Error()})
		return
	}
	s.dispatcher.ForceReplan("schedule-updated")
	s.publishEvent(eventbus.TypeScheduleUpdated, doc)
	s.recordAudit(r.Context(), storage.AuditEntry{Actor: actor, Action: storage.ActionScheduleSet, OK: true})
	writeJSON(w, http.StatusOK, doc)
}

type overrideRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
	Note string `json:"note,omitempty"`
}

func (s *Server) handleAddOverride(w http.ResponseWriter, r *http.Request) {
	var body overrideRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := actorFrom(r)
	doc, err := s.store.AddOverride(body.Date, body.Time, body.Note, actor)
	if err != nil {
		writeError(w, statusFor(err), err)
		s.recordAudit(r.Context(), storage.AuditEntry{Actor: actor, Action: storage.ActionOverrideAdd, Target: body.Date, Error: err.Error()})
		return
	}
	s.dispatcher.ForceReplan("override-added")
	s.publishEvent(eventbus.TypeScheduleUpdated, doc)
	s.recordAudit(r.Context(), storage.AuditEntry{Actor: actor, Action: storage.ActionOverrideAdd, Target: body.Date, OK: true})
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	actor := actorFrom(r)
	doc, err := s.store.RemoveOverride(date)
	if err != nil {
		writeError(w, statusFor(err), err)
		s.recordAudit(r.Context(), storage.AuditEntry{Actor: actor, Action: storage.ActionOverrideRemove, Target: date, Error: err.Error()})
		return
	}
	s.dispatcher.ForceReplan("override-removed")
	s.publishEvent(eventbus.TypeScheduleUpdated, doc)
	s.recordAudit(r.Context(), storage.AuditEntry{Actor: actor, Action: storage.ActionOverrideRemove, Target: date, OK: true})
	writeJSON(w, http.StatusOK, doc)
}

// ---- planning ----

type nextRunResponse struct {
	Target       *time.Time         `json:"target,omitempty"`
	FromOverride bool               `json:"fromOverride"`
	Override     *schedule.Override `json:"override,omitempty"`
}

func (s *Server) handleNextRun(w http.ResponseWriter, r *http.Request) {
	ref := time.Now()
	if raw := r.URL.Query().Get("reference"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("reference must be RFC 3339"))
			return
		}
		ref = t
	}
	run, err := s.dispatcher.Preview(ref)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := nextRunResponse{}
	if run != nil {
		t := run.Target
		resp.Target = &t
		resp.FromOverride = run.FromOverride()
		resp.Override = run.Override
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Dispatcher    dispatch.Snapshot `json:"dispatcher"`
	Channel       string            `json:"channel"`
	UptimeSec     int64             `json:"uptimeSec"`
	LastHeartbeat *time.Time        `json:"lastHeartbeat,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	resp := statusResponse{
		Dispatcher: s.dispatcher.Status(),
		Channel:    string(s.channel.State(ctx)),
		UptimeSec:  int64(time.Since(s.started).Seconds()),
	}
	if s.heartbeat != nil {
		if hb := s.heartbeat.LastHeartbeat(); !hb.IsZero() {
			resp.LastHeartbeat = &hb
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type publicStatusResponse struct {
	Paused       bool       `json:"paused"`
	NextRun      *time.Time `json:"nextRun,omitempty"`
	FromOverride bool       `json:"fromOverride"`
	ChannelReady bool       `json:"channelReady"`
}

// handlePublicStatus is the unauthenticated, sanitized view: next target and
// liveness only, nothing an operator would consider internal.
func (s *Server) handlePublicStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := publicStatusResponse{
		ChannelReady: s.channel.State(ctx).Ready(),
	}
	snap := s.dispatcher.Status()
	resp.NextRun = snap.NextRun
	resp.FromOverride = snap.FromOverride
	if doc, err := s.store.Read(); err == nil {
		resp.Paused = doc.Paused
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- calendar ----

func (s *Server) handleGetCalendar(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cal.Snapshot())
}

func (s *Server) handlePutCalendar(w http.ResponseWriter, r *http.Request) {
	var body calendar.Document
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := actorFrom(r)
	doc, err := s.cal.Set(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		s.recordAudit(r.Context(), storage.AuditEntry{Actor: actor, Action: storage.ActionCalendarSet, Error: err.Error()})
		return
	}
	s.recordAudit(r.Context(), storage.AuditEntry{Actor: actor, Action: storage.ActionCalendarSet, OK: true})
	writeJSON(w, http.StatusOK, doc)
}

// ---- logs & audit ----

func (s *Server) handleLogs(audience string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.feed == nil {
			writeJSON(w, http.StatusOK, []logx.FeedLine{})
			return
		}
		limit := queryInt(r, "limit", 100)
		writeJSON(w, http.StatusOK, s.feed.Recent(audience, limit))
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, []storage.AuditEntry{})
		return
	}
	entries, err := s.audit.RecentAudit(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---- events ----

// handleEvents streams bus events as server-sent events until the client
// disconnects. The per-response write deadline is cleared because the stream
// outlives the server's WriteTimeout.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusNotFound, errors.New("events disabled"))
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	events, unsubscribe := s.bus.Subscribe(16)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(e.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
			fl.Flush()
		}
	}
}

// ---- helpers ----

func (s *Server) publishEvent(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (s *Server) recordAudit(ctx context.Context, e storage.AuditEntry) {
	if s.audit == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.audit.AppendAudit(ctx, e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

func actorFrom(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get("X-Admin-User")); u != "" {
		return u
	}
	return "admin"
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps validation errors to 400 and everything else to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schedule.ErrBadDate),
		errors.Is(err, schedule.ErrBadTime),
		errors.Is(err, schedule.ErrBadTimezone),
		errors.Is(err, schedule.ErrBadWeekday):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
