package monitor

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/arplace/internal/geom"
	"github.com/banshee-data/arplace/internal/placement"
	"github.com/banshee-data/arplace/internal/planes"
	"github.com/banshee-data/arplace/internal/raycast"
	"github.com/banshee-data/arplace/internal/session"
	"github.com/banshee-data/arplace/internal/storage/sqlite"
)

type fixture struct {
	reg     *planes.Registry
	sess    *session.Session
	history *sqlite.HistoryStore
	id      string
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := planes.NewRegistry()
	reg.Ingest([]planes.TrackedPlane{
		{ID: "floor", Rotation: mgl64.QuatIdent(), Width: 2, Depth: 2, Alignment: planes.HorizontalUp},
		{
			ID: "wall", Center: mgl64.Vec3{0, 1, 3}, Width: 4, Depth: 2, Alignment: planes.Vertical,
			Rotation: mgl64.QuatBetweenVectors(geom.WorldUp, mgl64.Vec3{0, 0, -1}),
		},
	}, nil, nil)

	cam := session.CameraPoseFunc(func() (geom.Pose, bool) {
		return geom.NewPose(mgl64.Vec3{0, 1.5, 0}, mgl64.QuatRotate(mgl64.DegToRad(90), mgl64.Vec3{1, 0, 0})), true
	})
	proj := geom.PinholeProjector{Width: 100, Height: 100, VerticalFOVDeg: 60}
	st := placement.NewStabilizer(placement.DefaultConstraints(), placement.DefaultOptions())
	sess := session.New(reg, raycast.New(proj, raycast.DefaultOptions()), st, cam, session.DefaultOptions())

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	history := sqlite.NewHistoryStore(db, nil)
	id, err := history.StartSession("monitor-test")
	require.NoError(t, err)
	sub := sess.Subscribe(history.Recorder(id))
	t.Cleanup(func() { sub.Close() })

	ws := NewWebServer(WebServerConfig{
		Address:   "127.0.0.1:0",
		Planes:    reg,
		Session:   sess,
		History:   history,
		DB:        db,
		SessionID: id,
	})
	return &fixture{reg: reg, sess: sess, history: history, id: id, handler: ws.Handler()}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "arplace", body["service"])
}

func TestStatus_FollowsSession(t *testing.T) {
	f := newFixture(t)

	var st StatusResponse
	rec := f.get(t, "/api/placement/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, session.Scanning, st.State)
	assert.True(t, st.Ready)
	assert.Nil(t, st.Candidate)

	f.sess.Tick(mgl64.Vec2{50, 50})
	_, err := f.sess.Commit()
	require.NoError(t, err)

	rec = f.get(t, "/api/placement/status")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, session.Committed, st.State)
	require.NotNil(t, st.Committed)
	assert.Equal(t, planes.PlaneID("floor"), st.Committed.SourcePlaneID)
	assert.Equal(t, session.PromptPlaced, st.Prompt)
	assert.Equal(t, 1, st.Stats.Commits)
}

func TestStatus_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/placement/status", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPlanes(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/planes")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PlanesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, f.reg.Snapshot().Version(), resp.Version)
	require.Len(t, resp.Planes, 2)
	assert.Equal(t, planes.PlaneID("floor"), resp.Planes[0].ID)
	assert.InDelta(t, 4, resp.Planes[0].AreaM2, 1e-9)
	assert.InDelta(t, 0, resp.Planes[0].SlopeDeg, 1e-9)
	assert.InDelta(t, 90, resp.Planes[1].SlopeDeg, 1e-9)
}

func TestHistoryEndpoints(t *testing.T) {
	f := newFixture(t)
	f.sess.Tick(mgl64.Vec2{50, 50})
	_, err := f.sess.Commit()
	require.NoError(t, err)

	rec := f.get(t, "/api/history/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var evs []sqlite.EventRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
	require.Len(t, evs, 3)
	assert.Equal(t, session.EventCommitted, evs[2].Kind)

	rec = f.get(t, "/api/history/events?session_id=missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.get(t, "/api/history/sessions?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []sqlite.SessionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, f.id, sessions[0].SessionID)
}

func TestHistory_NotConfigured(t *testing.T) {
	ws := NewWebServer(WebServerConfig{})
	req := httptest.NewRequest(http.MethodGet, "/api/history/sessions", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/planes", nil)
	rec = httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPlanesChart(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/charts/planes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "Tracked planes")
	assert.Contains(t, body, "floor")
	assert.Contains(t, body, "horizontal_up")
}

func TestPlanesPNG(t *testing.T) {
	f := newFixture(t)
	f.sess.Tick(mgl64.Vec2{50, 50})

	rec := f.get(t, "/charts/planes.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 100)
}

func TestWritePlaneMapPNG_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePlaneMapPNG(&buf, planes.NewRegistry().Snapshot(), nil))
	_, err := png.Decode(&buf)
	assert.NoError(t, err)
}

func TestDebugIndex(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/debug/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "planes-chart")
	assert.Contains(t, body, "tailsql")
	assert.Contains(t, body, "Placement state")
}
