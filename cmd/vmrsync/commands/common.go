package commands

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/vmrsync/internal/clone"
	"git.home.luguber.info/inful/vmrsync/internal/git"
	"git.home.luguber.info/inful/vmrsync/internal/metrics"
	"git.home.luguber.info/inful/vmrsync/internal/patches"
	"git.home.luguber.info/inful/vmrsync/internal/sync"
	"git.home.luguber.info/inful/vmrsync/internal/tracker"
	"git.home.luguber.info/inful/vmrsync/internal/workspace"
)

// Global context passed to subcommands if we need to share global state later.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Repo        string           `short:"r" help:"Path to the virtual monorepo checkout" default:"."`
	CacheDir    string           `help:"Directory for cached upstream clones (defaults to the user cache dir)"`
	Verbose     bool             `short:"v" help:"Enable verbose logging"`
	MetricsAddr string           `help:"Serve Prometheus metrics on this address for the duration of the command"`
	Version     kong.VersionFlag `name:"version" help:"Show version and exit"`

	Init   InitCmd   `cmd:"" help:"Pull a mapped repository into the monorepo for the first time"`
	Update UpdateCmd `cmd:"" help:"Sync an initialized mapping to a newer upstream revision"`
	Scan   ScanCmd   `cmd:"" help:"Verify no cloaked files are present in the monorepo"`
	Status StatusCmd `cmd:"" help:"Show tracked mappings and their synced revisions"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if c.MetricsAddr != "" {
		serveMetrics(c.MetricsAddr)
	}
	return nil
}

// engine bundles the wired components a sync command needs.
type engine struct {
	paths   workspace.Paths
	tracker *tracker.Tracker
	orch    *sync.Orchestrator
}

// buildEngine opens the monorepo checkout and wires the orchestrator.
func buildEngine(root *CLI) (*engine, error) {
	repoPath, err := filepath.Abs(root.Repo)
	if err != nil {
		return nil, err
	}
	paths := workspace.New(repoPath)

	repo, err := git.Open(repoPath)
	if err != nil {
		return nil, err
	}
	tr := tracker.New(paths)
	if err := tr.InitializeMappings(""); err != nil {
		return nil, err
	}
	cacheDir, err := resolveCacheDir(root.CacheDir)
	if err != nil {
		return nil, err
	}
	clones := clone.NewManager(cacheDir)
	patcher := patches.NewHandler(paths)

	return &engine{
		paths:   paths,
		tracker: tr,
		orch:    sync.NewOrchestrator(tr, clones, patcher, repo, paths),
	}, nil
}

func resolveCacheDir(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", errors.New("no user cache dir available, pass --cache-dir")
	}
	return filepath.Join(base, "vmrsync", "clones"), nil
}

// serveMetrics exposes the process registry in the background. The server
// dies with the process; one-shot commands do not drain it.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()
	slog.Debug("serving metrics", "addr", addr)
}
