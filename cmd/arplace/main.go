// Command arplace replays a plane-detection scene through the placement
// session and reports what a user would see frame by frame. It can record
// the run to SQLite, serve live status over HTTP, stream session events
// over gRPC, and render a top-down plane map.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/banshee-data/arplace/internal/config"
	"github.com/banshee-data/arplace/internal/monitor"
	"github.com/banshee-data/arplace/internal/placement"
	"github.com/banshee-data/arplace/internal/planes"
	"github.com/banshee-data/arplace/internal/raycast"
	"github.com/banshee-data/arplace/internal/scenario"
	"github.com/banshee-data/arplace/internal/security"
	"github.com/banshee-data/arplace/internal/session"
	"github.com/banshee-data/arplace/internal/storage/sqlite"
	"github.com/banshee-data/arplace/internal/version"
	"github.com/banshee-data/arplace/internal/visualiser"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Tuning config JSON (empty uses built-in defaults)")
	scenePath   = flag.String("scene", "", "Scene JSON to replay (default: built-in synthetic floor)")
	dbPath      = flag.String("db", "", "Record the run to this SQLite file")
	listen      = flag.String("listen", "", "Serve status and debug pages on this address, e.g. :8080")
	grpcListen  = flag.String("grpc-listen", "", "Stream session events over gRPC on this address, e.g. localhost:50051")
	pngPath     = flag.String("png", "", "Write a top-down plane map PNG to this file, or into this directory, after the run")
	jsonSteps   = flag.Bool("json", false, "Print steps as JSON lines instead of text")
	serve       = flag.Bool("serve", false, "Keep the HTTP and gRPC servers up after the scene ends, until interrupted")
	debug       = flag.Bool("debug", false, "Enable diagnostic logging for planes, placement, and session")
	trace       = flag.Bool("trace", false, "Enable per-frame trace logging (implies -debug)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// runOptions mirrors the command-line flags so run can be driven from tests.
type runOptions struct {
	ConfigPath string
	ScenePath  string
	DBPath     string
	Listen     string
	GRPCListen string
	PNGPath    string
	JSON       bool
	Serve      bool
	Out        io.Writer
}

// runResult summarises a completed run.
type runResult struct {
	SessionID string
	Steps     []scenario.Step
	Final     session.State
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	setupLogging(*debug || *trace, *trace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err := run(ctx, runOptions{
		ConfigPath: *configPath,
		ScenePath:  *scenePath,
		DBPath:     *dbPath,
		Listen:     *listen,
		GRPCListen: *grpcListen,
		PNGPath:    *pngPath,
		JSON:       *jsonSteps,
		Serve:      *serve,
		Out:        os.Stdout,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("arplace: %v", err)
	}
}

// setupLogging sends the per-package log streams to stderr. Ops messages
// are always on.
func setupLogging(diag, tr bool) {
	var diagW, traceW io.Writer
	if diag {
		diagW = os.Stderr
	}
	if tr {
		traceW = os.Stderr
	}
	planes.SetLogWriters(os.Stderr, diagW, traceW)
	placement.SetLogWriters(diagW, traceW)
	session.SetLogWriters(os.Stderr, diagW, traceW)
	raycast.SetTraceWriter(traceW)
	scenario.SetLogWriter(os.Stderr)
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func loadScene(path string) (*scenario.Scene, error) {
	if path == "" {
		return scenario.SyntheticFloor(), nil
	}
	sc, err := scenario.LoadScene(path)
	if err != nil {
		return nil, fmt.Errorf("load scene: %w", err)
	}
	return sc, nil
}

func run(ctx context.Context, opts runOptions) (*runResult, error) {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	sc, err := loadScene(opts.ScenePath)
	if err != nil {
		return nil, err
	}
	if opts.PNGPath != "" {
		opts.PNGPath = pngTarget(opts.PNGPath, sc.Name)
		if err := security.ValidateOutputPath(opts.PNGPath); err != nil {
			return nil, fmt.Errorf("invalid -png path: %w", err)
		}
	}

	runner := scenario.NewRunner(cfg, sc)
	sess := runner.Session
	res := &runResult{}

	var history *sqlite.HistoryStore
	webCfg := monitor.WebServerConfig{Address: opts.Listen, Planes: runner.Registry, Session: sess}
	if opts.DBPath != "" {
		if err := security.ValidateOutputPath(opts.DBPath); err != nil {
			return nil, fmt.Errorf("invalid -db path: %w", err)
		}
		db, err := sqlite.Open(opts.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		defer db.Close()

		history = sqlite.NewHistoryStore(db, nil)
		res.SessionID, err = history.StartSession(sc.Name)
		if err != nil {
			return nil, err
		}
		sub := sess.Subscribe(history.Recorder(res.SessionID))
		defer sub.Close()
		webCfg.History, webCfg.DB, webCfg.SessionID = history, db, res.SessionID
		log.Printf("recording session %s to %s", res.SessionID, opts.DBPath)
	}

	var wg sync.WaitGroup
	srvCtx, cancelServers := context.WithCancel(ctx)
	defer func() {
		cancelServers()
		wg.Wait()
	}()

	if opts.GRPCListen != "" {
		pub := visualiser.NewPublisher(visualiser.Config{ListenAddr: opts.GRPCListen})
		if err := pub.Start(); err != nil {
			return nil, fmt.Errorf("start event stream: %w", err)
		}
		defer pub.Stop()
		sub := sess.Subscribe(pub.Publish)
		defer sub.Close()
	}

	if opts.Listen != "" {
		ws := monitor.NewWebServer(webCfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(srvCtx); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	var lastVersion uint64
	runner.OnStep = func(st scenario.Step) {
		printStep(opts.Out, st, opts.JSON)
		if history == nil {
			return
		}
		snap := runner.Registry.Snapshot()
		if v := snap.Version(); v != lastVersion {
			lastVersion = v
			if err := history.RecordPlanes(res.SessionID, snap); err != nil {
				log.Printf("record planes v%d: %v", v, err)
			}
		}
	}

	res.Steps, err = runner.Run(ctx)
	res.Final = sess.CurrentState()
	if history != nil {
		if endErr := history.EndSession(res.SessionID, res.Final); endErr != nil {
			log.Printf("end session %s: %v", res.SessionID, endErr)
		}
	}
	if err != nil {
		return res, err
	}

	if opts.PNGPath != "" {
		if err := writePlaneMap(opts.PNGPath, runner.Registry.Snapshot(), sess); err != nil {
			return res, err
		}
		log.Printf("wrote plane map to %s", opts.PNGPath)
	}

	if opts.Serve && (opts.Listen != "" || opts.GRPCListen != "") {
		log.Printf("scene %q finished in state %s; serving until interrupted", sc.Name, res.Final)
		<-ctx.Done()
	}
	return res, nil
}

// pngTarget names the map after the scene when path is a directory.
func pngTarget(path, scene string) string {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return filepath.Join(path, security.SanitizeFilename(scene)+"-planes.png")
	}
	return path
}

func writePlaneMap(path string, snap *planes.Snapshot, sess *session.Session) error {
	var marker *placement.PlacementPose
	if p, ok := sess.CommittedPose(); ok {
		marker = &p
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := monitor.WritePlaneMapPNG(f, snap, marker); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printStep(w io.Writer, st scenario.Step, asJSON bool) {
	if asJSON {
		b, err := json.Marshal(st)
		if err != nil {
			log.Printf("encode step %d: %v", st.Frame, err)
			return
		}
		fmt.Fprintf(w, "%s\n", b)
		return
	}
	line := fmt.Sprintf("frame %3d.%d %-10s %-15s planes=%d", st.Frame, st.Repeat, st.Action, st.State, st.Planes)
	switch {
	case st.Committed != nil:
		p := st.Committed.Position
		line += fmt.Sprintf(" anchor=%s@(%.2f,%.2f,%.2f) heading=%.0f", st.Committed.SourcePlaneID, p.X(), p.Y(), p.Z(), st.Committed.HeadingDeg)
	case st.Candidate != nil:
		p := st.Candidate.Position
		line += fmt.Sprintf(" candidate=%s@(%.2f,%.2f,%.2f)", st.Candidate.SourcePlaneID, p.X(), p.Y(), p.Z())
	case st.Rejection != "":
		line += fmt.Sprintf(" rejected=%s", st.Rejection)
	}
	if st.Err != "" {
		line += " error=" + st.Err
	}
	fmt.Fprintf(w, "%s  %q\n", line, st.Prompt)
}
