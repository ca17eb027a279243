// Package api serves a read-only debug view of a running localizer: a JSON
// state snapshot, belief and particle charts, and a SQL browser over the
// run database.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"gonum.org/v1/gonum/mat"
	"tailscale.com/tsweb"

	"github.com/banshee-data/localizer/internal/httputil"
	"github.com/banshee-data/localizer/internal/localization"
	"github.com/banshee-data/localizer/internal/monitoring"
	"github.com/banshee-data/localizer/internal/pose"
	"github.com/banshee-data/localizer/internal/report"
	"github.com/banshee-data/localizer/internal/robot"
	"github.com/banshee-data/localizer/internal/storage/sqlite"
	"github.com/banshee-data/localizer/internal/timeutil"
	"github.com/banshee-data/localizer/internal/world"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// State is the JSON snapshot served at /api/state.
type State struct {
	Step       int       `json:"step"`
	Strategy   string    `json:"strategy"`
	Pose       pose.Pose `json:"pose"`
	Reading    float64   `json:"reading"`
	Estimate   pose.Pose `json:"estimate"`
	Confidence float64   `json:"confidence"`
	Entropy    *float64  `json:"entropy,omitempty"`
	ESS        *float64  `json:"ess,omitempty"`
	Particles  int       `json:"particles,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// beliefSnapshot holds copies of a grid belief taken at capture time.
type beliefSnapshot struct {
	slices   [pose.NumOrientations]*mat.Dense
	marginal *mat.Dense
}

func (b *beliefSnapshot) Slice(o pose.Orientation) *mat.Dense { return b.slices[o] }
func (b *beliefSnapshot) Marginal() *mat.Dense                { return b.marginal }

// Server holds the latest snapshot. Snapshots are taken inside the robot's
// notification callback, so handlers never touch the localizer itself.
type Server struct {
	mu        sync.RWMutex
	clock     timeutil.Clock
	width     float64
	height    float64
	captured  bool
	state     State
	belief    *beliefSnapshot
	particles []localization.Particle
}

// NewServer creates a server for a world. A nil clock uses real time.
func NewServer(w *world.World, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{clock: clock, width: w.Width(), height: w.Height()}
}

// Observe captures a snapshot of r and its localizer after every
// notification from r.
func (s *Server) Observe(r robot.Robot) robot.Subscription {
	loc := r.Localizer()
	s.Capture(r, loc)
	return r.Subscribe(func() { s.Capture(r, loc) })
}

// Capture records the robot's and localizer's current state.
func (s *Server) Capture(r robot.Robot, loc localization.Strategy) {
	est, conf := loc.Estimate()
	st := State{
		Strategy:   loc.Name(),
		Pose:       r.Pose(),
		Reading:    r.Reading(),
		Estimate:   est,
		Confidence: conf,
		UpdatedAt:  s.clock.Now(),
	}

	var belief *beliefSnapshot
	var particles []localization.Particle
	switch l := loc.(type) {
	case *localization.Markov:
		h := l.Entropy()
		st.Entropy = &h
		belief = &beliefSnapshot{marginal: l.Marginal()}
		for _, o := range pose.Orientations() {
			belief.slices[o] = l.Slice(o)
		}
	case *localization.ParticleFilter:
		ess := l.ESS()
		st.ESS = &ess
		st.Particles = l.Len()
		particles = l.Particles()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captured {
		st.Step = s.state.Step + 1
	}
	s.captured = true
	s.state = st
	s.belief = belief
	s.particles = particles
}

// State returns the latest snapshot.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/charts/particles", s.particleChart)
	mux.HandleFunc("/charts/belief.png", s.beliefPNG)
	return mux
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	s.mu.RLock()
	captured, st := s.captured, s.state
	s.mu.RUnlock()
	if !captured {
		httputil.Unavailable(w, "no state captured yet")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

// particleChart renders the particle cloud as HTML.
// Query params:
//   - max_points (optional; default 5000) to reduce payload size
func (s *Server) particleChart(w http.ResponseWriter, r *http.Request) {
	maxPoints := 5000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 0 && v <= 50000 {
			maxPoints = v
		}
	}

	s.mu.RLock()
	particles, st := s.particles, s.state
	s.mu.RUnlock()
	if particles == nil {
		httputil.NotFound(w, "no particle filter running")
		return
	}

	truth, est := st.Pose, st.Estimate
	chart := report.ParticleChart{
		Title:     "Particles",
		Subtitle:  fmt.Sprintf("step=%d n=%d ess=%.1f", st.Step, st.Particles, derefOr(st.ESS, 0)),
		Width:     s.width,
		Height:    s.height,
		MaxPoints: maxPoints,
		Truth:     &truth,
		Estimate:  &est,
	}
	var buf bytes.Buffer
	if err := chart.Render(&buf, particles); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) beliefPNG(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	belief, step := s.belief, s.state.Step
	s.mu.RUnlock()
	if belief == nil {
		httputil.NotFound(w, "no grid belief available")
		return
	}

	var buf bytes.Buffer
	if err := report.WriteBeliefPNG(&buf, belief, fmt.Sprintf("step %d", step)); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render belief: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func derefOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// AttachAdminRoutes mounts the tsweb debug index on mux and, when store is
// non-nil, a tailsql browser over the run database.
func AttachAdminRoutes(mux *http.ServeMux, store *sqlite.RunStore, dbPath string) error {
	debug := tsweb.Debugger(mux)
	if store == nil {
		return nil
	}
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+dbPath, store.DB(), &tailsql.DBOptions{
		Label: "Localization runs",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	return nil
}

// ListenAndServe serves h on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{Addr: addr, Handler: h}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}
