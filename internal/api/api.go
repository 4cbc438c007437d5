// Package api implements Bastion's Hub-side HTTP control surface (spec
// §6): job/run/snapshot/retention/notification management plus session
// login, served over github.com/gorilla/mux the way storj-storj and
// pulumi-pulumi wire their HTTP routers. Every handler replies through the
// same {error,message,details} envelope internal/apperr produces, so a
// client never has to special-case a route's failure shape.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cuemby/bastion/internal/agentmgr"
	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/config"
	"github.com/cuemby/bastion/internal/events"
	"github.com/cuemby/bastion/internal/scheduler"
	"github.com/cuemby/bastion/internal/snapshot"
	"github.com/cuemby/bastion/internal/store"
	"github.com/cuemby/bastion/pkg/metrics"
)

// Server wires the Hub's store and background workers into an HTTP
// surface. NewRouter builds the *mux.Router callers pass to http.Server.
type Server struct {
	Store     *store.Store
	Scheduler *scheduler.Scheduler
	Agents    *agentmgr.Manager
	Bus       *events.Bus
	Retention *snapshot.RetentionLoop
	Cfg       config.Config
	Logger    zerolog.Logger
}

// NewRouter builds the complete route table. It does not check the listen
// address itself: Server.CheckBindAddr refuses a non-loopback address over
// plain HTTP (spec §6's insecure-HTTP guard), and callers run it before
// calling http.Server.ListenAndServe.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/agent/connect", s.handleAgentConnect)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requireAuth)

	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleUpdateJob).Methods(http.MethodPut)
	api.HandleFunc("/jobs/{id}/archive", s.handleArchiveJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", s.handleDeleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/trigger", s.handleTriggerJob).Methods(http.MethodPost)

	api.HandleFunc("/jobs/{id}/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/events", s.handleRunEvents)

	api.HandleFunc("/jobs/{id}/snapshots", s.handleListSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/snapshots/{run_id}/pin", s.handlePinSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/snapshots/{run_id}/pin", s.handleUnpinSnapshot).Methods(http.MethodDelete)

	api.HandleFunc("/jobs/{id}/retention/preview", s.handleRetentionPreview).Methods(http.MethodGet)

	api.HandleFunc("/notifications", s.handleListNotifications).Methods(http.MethodGet)

	api.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)

	return r
}

// CheckBindAddr enforces spec §6: serving over plain HTTP to anything but
// loopback is refused outright rather than silently accepted.
func (s *Server) CheckBindAddr(addr string) error {
	if s.Cfg.InsecureHTTP {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" || net.ParseIP(host).IsLoopback() {
		return nil
	}
	return errInsecureBind
}

var errInsecureBind = apiError("refusing to serve non-loopback address without TLS; set --insecure-http to override")

type apiError string

func (e apiError) Error() string { return string(e) }

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, routeTemplate(r), http.StatusText(sw.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, routeTemplate(r)).Observe(time.Since(start).Seconds())
		s.Logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", sw.status).
			Dur("elapsed", time.Since(start)).Msg("api request")
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, resp := apperr.ToResponse(err)
	writeJSON(w, status, resp)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type ctxKey int

const userIDKey ctxKey = 0

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}
