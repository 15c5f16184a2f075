// Package monitor serves placement status, plane inspection, and history
// over HTTP, plus tsweb debug pages for live SQL access.
package monitor

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/arplace/internal/geom"
	"github.com/banshee-data/arplace/internal/httputil"
	"github.com/banshee-data/arplace/internal/placement"
	"github.com/banshee-data/arplace/internal/planes"
	"github.com/banshee-data/arplace/internal/session"
	"github.com/banshee-data/arplace/internal/storage/sqlite"
	"github.com/banshee-data/arplace/internal/version"
)

// WebServer serves the monitoring endpoints.
type WebServer struct {
	address   string
	planes    planes.View
	session   *session.Session
	history   *sqlite.HistoryStore
	db        *sql.DB
	sessionID string
	server    *http.Server
}

// WebServerConfig configures a WebServer. History and DB are optional;
// their endpoints answer 404 without them.
type WebServerConfig struct {
	Address   string
	Planes    planes.View
	Session   *session.Session
	History   *sqlite.HistoryStore
	DB        *sql.DB
	SessionID string // default for history queries
}

// NewWebServer builds the server and its routes.
func NewWebServer(cfg WebServerConfig) *WebServer {
	ws := &WebServer{
		address:   cfg.Address,
		planes:    cfg.Planes,
		session:   cfg.Session,
		history:   cfg.History,
		db:        cfg.DB,
		sessionID: cfg.SessionID,
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Handler returns the route mux. Debug routes are included.
func (ws *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/placement/status", ws.handleStatus)
	mux.HandleFunc("/api/planes", ws.handlePlanes)
	mux.HandleFunc("/api/history/sessions", ws.handleSessions)
	mux.HandleFunc("/api/history/events", ws.handleEvents)
	mux.HandleFunc("/charts/planes", ws.handlePlanesChart)
	mux.HandleFunc("/charts/planes.png", ws.handlePlanesPNG)
	ws.AttachAdminRoutes(mux)
	return mux
}

// Start serves until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}

// AttachAdminRoutes mounts the tsweb debug index on mux: live SQL over the
// history database and plain-text views of the session.
func (ws *WebServer) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Version", func() any { return version.Version })
	if ws.session != nil {
		debug.KVFunc("Placement state", func() any { return ws.session.CurrentState() })
		debug.KVFunc("Prompt", func() any { return ws.session.Prompt() })
	}
	if ws.planes != nil {
		debug.KVFunc("Tracked planes", func() any { return ws.planes.Snapshot().Len() })
	}
	debug.Handle("planes-chart", "Tracked planes (interactive)", http.HandlerFunc(ws.handlePlanesChart))
	debug.Handle("planes-png", "Tracked planes (PNG)", http.HandlerFunc(ws.handlePlanesPNG))

	if ws.db == nil {
		return
	}
	tsql, err := tailsql.NewServer(tailsql.Options{RoutePrefix: "/debug/tailsql/"})
	if err != nil {
		log.Printf("tailsql disabled: %v", err)
		return
	}
	tsql.SetDB("sqlite://history.db", ws.db, &tailsql.DBOptions{Label: "Placement history"})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "arplace",
		"version":   version.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// StatusResponse is the body of /api/placement/status.
type StatusResponse struct {
	State     session.State            `json:"state"`
	Prompt    string                   `json:"prompt"`
	Ready     bool                     `json:"ready"`
	Rejection placement.RejectReason   `json:"rejection,omitempty"`
	Candidate *placement.PlacementPose `json:"candidate,omitempty"`
	Committed *placement.PlacementPose `json:"committed,omitempty"`
	Stats     session.Stats            `json:"stats"`
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if ws.session == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no placement session")
		return
	}
	resp := StatusResponse{
		State:     ws.session.CurrentState(),
		Prompt:    ws.session.Prompt(),
		Ready:     ws.session.Ready(),
		Rejection: ws.session.LastRejection(),
		Stats:     ws.session.Stats(),
	}
	if p, ok := ws.session.CandidatePose(); ok {
		resp.Candidate = &p
	}
	if p, ok := ws.session.CommittedPose(); ok {
		resp.Committed = &p
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// PlaneSummary describes one live plane.
type PlaneSummary struct {
	ID        planes.PlaneID   `json:"id"`
	Alignment planes.Alignment `json:"alignment"`
	Lifecycle planes.Lifecycle `json:"lifecycle"`
	Center    [3]float64       `json:"center"`
	Width     float64          `json:"width"`
	Depth     float64          `json:"depth"`
	AreaM2    float64          `json:"area_m2"`
	SlopeDeg  float64          `json:"slope_deg"`
}

// PlanesResponse is the body of /api/planes.
type PlanesResponse struct {
	Version uint64         `json:"version"`
	Planes  []PlaneSummary `json:"planes"`
}

func summarize(snap *planes.Snapshot) PlanesResponse {
	resp := PlanesResponse{Version: snap.Version(), Planes: make([]PlaneSummary, 0, snap.Len())}
	for p := range snap.All() {
		resp.Planes = append(resp.Planes, PlaneSummary{
			ID:        p.ID,
			Alignment: p.Alignment,
			Lifecycle: p.Lifecycle,
			Center:    [3]float64(p.Center),
			Width:     p.Width,
			Depth:     p.Depth,
			AreaM2:    p.Area(),
			SlopeDeg:  geom.SlopeDeg(p.Normal()),
		})
	}
	return resp
}

func (ws *WebServer) handlePlanes(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if ws.planes == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no plane registry")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summarize(ws.planes.Snapshot()))
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if ws.history == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "history is not recorded")
		return
	}
	sessions, err := ws.history.ListSessions(httputil.QueryInt(r, "limit", 20, 1, 500))
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*sqlite.SessionRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, sessions)
}

func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if ws.history == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "history is not recorded")
		return
	}
	id := r.URL.Query().Get("session_id")
	if id == "" {
		id = ws.sessionID
	}
	if id == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "missing 'session_id' parameter")
		return
	}
	if _, err := ws.history.GetSession(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.WriteJSONError(w, http.StatusNotFound, "unknown session")
			return
		}
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events, err := ws.history.ListEvents(id)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*sqlite.EventRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}
