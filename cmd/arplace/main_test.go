package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/arplace/internal/scenario"
	"github.com/banshee-data/arplace/internal/session"
	"github.com/banshee-data/arplace/internal/storage/sqlite"
)

const (
	testConfig = "../../config/tuning.defaults.json"
	testScene  = "../../internal/scenario/testdata/tabletop.json"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "config/tuning.defaults.json", *configPath)
	assert.Empty(t, *scenePath)
	assert.Empty(t, *dbPath)
	assert.Empty(t, *listen)
	assert.False(t, *serve)
}

func TestRun_TabletopRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	dbFile := filepath.Join(dir, "history.db")
	pngFile := filepath.Join(dir, "planes.png")
	var out bytes.Buffer

	res, err := run(context.Background(), runOptions{
		ConfigPath: testConfig,
		ScenePath:  testScene,
		DBPath:     dbFile,
		PNGPath:    pngFile,
		Out:        &out,
	})
	require.NoError(t, err)
	assert.Equal(t, session.Committed, res.Final)
	assert.Len(t, res.Steps, 11)
	require.NotEmpty(t, res.SessionID)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 11)
	assert.Contains(t, lines[len(lines)-1], "auto_place")
	assert.Contains(t, lines[len(lines)-1], "anchor=room")

	db, err := sqlite.Open(dbFile)
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.NewHistoryStore(db, nil)

	rec, err := store.GetSession(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "tabletop", rec.Scene)
	require.NotNil(t, rec.EndedAtNs)
	assert.Equal(t, session.Committed, rec.FinalState)

	evs, err := store.ListEvents(res.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	var kinds []session.EventKind
	for _, ev := range evs {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, session.EventAnchorMoved)
	assert.Contains(t, kinds, session.EventReset)
	assert.Equal(t, session.EventCommitted, kinds[len(kinds)-1])

	f, err := os.Open(pngFile)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
}

func TestRun_JSONSteps(t *testing.T) {
	var out bytes.Buffer
	res, err := run(context.Background(), runOptions{ConfigPath: "", JSON: true, Out: &out})
	require.NoError(t, err)

	var steps []scenario.Step
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var st scenario.Step
		require.NoError(t, json.Unmarshal(sc.Bytes(), &st))
		steps = append(steps, st)
	}
	require.Len(t, steps, len(res.Steps))
	assert.Equal(t, res.Steps[len(res.Steps)-1].State, steps[len(steps)-1].State)
}

func TestRun_PNGIntoDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := run(context.Background(), runOptions{PNGPath: dir})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "synthetic-floor-planes.png"))
	assert.NoError(t, err)
}

func TestRun_RejectsBadInputs(t *testing.T) {
	ctx := context.Background()

	_, err := run(ctx, runOptions{ConfigPath: "missing.json"})
	assert.ErrorContains(t, err, "load config")

	_, err = run(ctx, runOptions{ScenePath: "missing.json"})
	assert.ErrorContains(t, err, "load scene")

	_, err = run(ctx, runOptions{PNGPath: "/etc/arplace.png"})
	assert.ErrorContains(t, err, "invalid -png path")

	_, err = run(ctx, runOptions{DBPath: "/etc/arplace.db"})
	assert.ErrorContains(t, err, "invalid -db path")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := run(ctx, runOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Empty(t, res.Steps)
}
