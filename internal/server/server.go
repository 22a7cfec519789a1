// Package server wires the edit engine to a world, a journal and the
// network surface, and runs their loops until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"voxeledit/internal/config"
	"voxeledit/internal/edit"
	"voxeledit/internal/journal"
	"voxeledit/internal/material"
	"voxeledit/internal/session"
	"voxeledit/internal/terrain"
	"voxeledit/internal/world"
)

const shutdownTimeout = 5 * time.Second

// Options carries process level dependencies for New.
type Options struct {
	// ConfigPath, when set, is watched and reloaded on change.
	ConfigPath string
	Logger     *slog.Logger
	// LogLevel is adjusted on reload when set.
	LogLevel *slog.LevelVar
}

type Server struct {
	logger     *slog.Logger
	logLevel   *slog.LevelVar
	configPath string

	cfgMu sync.RWMutex
	cfg   *config.Config

	region    world.Region
	materials *material.Registry
	world     *world.Manager
	journal   *journal.Journal
	registry  *prometheus.Registry
	metrics   *edit.Metrics
	scheduler *edit.Scheduler
	offline   *edit.OfflineUndoHandler
	sessions  *session.Handler
	router    *gin.Engine

	deltaBuffer     *deltaAccumulator
	deltaSeq        uint64
	deltasBroadcast prometheus.Counter
}

func New(cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("server", cfg.Server.ID)

	materials, err := material.NewRegistry(cfg.MaterialList())
	if err != nil {
		return nil, fmt.Errorf("materials: %w", err)
	}
	if _, ok := materials.Lookup(cfg.Edit.IntermediateMaterial); !ok {
		return nil, fmt.Errorf("intermediate material %q is not defined", cfg.Edit.IntermediateMaterial)
	}

	region := world.NewRegion(cfg.World)
	storage, err := world.NewStorageProvider(cfg.Storage, region, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	generator := terrain.NewNoiseGenerator(cfg.World.Terrain, logger)
	manager := world.NewManager(region, storage, generator, materials, world.Options{
		DefaultBiome: cfg.World.DefaultBiome,
		Logger:       logger,
	})

	var (
		jrnl        *journal.Journal
		editJournal edit.Journal
	)
	if cfg.Journal.Enabled {
		jrnl, err = journal.Open(cfg.Journal, logger)
		if err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("journal: %w", err)
		}
		editJournal = jrnl
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := edit.NewMetrics(registry)

	scheduler := edit.NewScheduler(edit.SchedulerOptions{
		BlockChangesPerSecond: cfg.Edit.BlockChangesPerSecond,
		Interval:              cfg.Edit.ChangeInterval.Duration(),
		Logger:                logger,
		Metrics:               metrics,
		Journal:               editJournal,
	})
	offline := edit.NewOfflineUndoHandler(cfg.Edit.OfflineUndoTTL.Duration())

	s := &Server{
		logger:      logger,
		logLevel:    opts.LogLevel,
		configPath:  opts.ConfigPath,
		cfg:         cfg,
		region:      region,
		materials:   materials,
		world:       manager,
		journal:     jrnl,
		registry:    registry,
		metrics:     metrics,
		scheduler:   scheduler,
		offline:     offline,
		deltaBuffer: newDeltaAccumulator(),
	}
	s.sessions = session.NewHandler(session.Options{
		Scheduler:       scheduler,
		Offline:         offline,
		Grid:            manager,
		Materials:       materials,
		EditorOptions:   s.editorOptions(cfg, editJournal),
		UndoHistorySize: cfg.Edit.UndoHistorySize,
		RateLimit:       cfg.Server.SessionRateLimit,
		Burst:           cfg.Server.SessionBurst,
		Logger:          logger,
	})
	s.registerMetrics()
	s.router = s.routes()
	return s, nil
}

func (s *Server) editorOptions(cfg *config.Config, j edit.Journal) edit.Options {
	return edit.Options{
		Intermediate:       s.materials.Resolve(cfg.Edit.IntermediateMaterial),
		ApplyPhysics:       cfg.Edit.ApplyPhysics,
		MaxUndoVolume:      cfg.Edit.MaxUndoVolume,
		MaxShapeVolume:     cfg.Edit.MaxShapeVolume,
		ProgressEveryTicks: cfg.Edit.ProgressEveryTicks,
		Materials:          s.materials,
		Metrics:            s.metrics,
		Journal:            j,
	}
}

func (s *Server) editJournal() edit.Journal {
	if s.journal == nil {
		return nil
	}
	return s.journal
}

func (s *Server) registerMetrics() {
	factory := promauto.With(s.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "voxeledit_sessions_open",
		Help: "Open owner websocket sessions",
	}, func() float64 { return float64(s.sessions.Sessions()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "voxeledit_offline_histories",
		Help: "Undo histories kept for disconnected owners",
	}, func() float64 { return float64(s.offline.Len()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "voxeledit_chunks_loaded",
		Help: "Chunks held in memory",
	}, func() float64 { return float64(len(s.world.LoadedChunks())) })
	s.deltasBroadcast = factory.NewCounter(prometheus.CounterOpts{
		Name: "voxeledit_chunk_deltas_total",
		Help: "Chunk deltas broadcast to sessions",
	})
	if s.journal != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "voxeledit_journal_index_queue_depth",
			Help: "Journal records waiting for the SQLite index",
		}, func() float64 {
			st, _ := s.journal.Stats()
			return float64(st.QueueDepth)
		})
		factory.NewCounterFunc(prometheus.CounterOpts{
			Name: "voxeledit_journal_index_dropped_total",
			Help: "Journal records the SQLite index dropped under load",
		}, func() float64 {
			st, _ := s.journal.Stats()
			return float64(st.Dropped)
		})
	}
}

// Config returns the configuration currently in effect.
func (s *Server) Config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Handler exposes the HTTP surface.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Config().Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the scheduler, the offline history sweep, delta streaming,
// the config watcher and HTTP on ln. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	cfg := s.Config()
	s.logger.Info("edit server starting",
		"listen", ln.Addr().String(),
		"budget", s.scheduler.Budget(),
		"interval", s.scheduler.Interval(),
		"storage", cfg.Storage.Backend,
		"journal", cfg.Journal.Enabled,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.scheduler.Run(ctx) })
	g.Go(func() error { return s.offline.Run(ctx, cfg.Edit.OfflineSweepInterval.Duration()) })
	g.Go(func() error { return s.streamDeltas(ctx) })
	g.Go(func() error { return s.serveHTTP(ctx, ln) })
	if s.configPath != "" {
		watcher := config.NewWatcher(s.configPath, s.logger, s.ApplyConfig)
		g.Go(func() error { return watcher.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.logger.Info("edit server stopped", "error", err)
	return err
}

func (s *Server) serveHTTP(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.sessions.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http: %w", err)
	}
	return ctx.Err()
}

func (s *Server) deltaInterval() time.Duration {
	return s.Config().Server.DeltaStreamRate.Duration()
}

func (s *Server) streamDeltas(ctx context.Context) error {
	timer := time.NewTimer(s.deltaInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.flushVoxelDeltas()
			timer.Reset(s.deltaInterval())
		}
	}
}

// flushVoxelDeltas drains the world's change log and broadcasts one delta
// per touched chunk. Only the delta goroutine calls it while serving.
func (s *Server) flushVoxelDeltas() {
	s.deltaBuffer.addSummary(s.region, s.world.DrainChanges())
	deltas := s.deltaBuffer.flush(&s.deltaSeq)
	if len(deltas) == 0 {
		return
	}
	s.sessions.Broadcast(session.ServerMessage{Type: session.TypeDelta, Deltas: deltas})
	s.deltasBroadcast.Add(float64(len(deltas)))
}

// ApplyConfig applies the reloadable parts of cfg: scheduler budget and
// interval, offline expiry, session limits, editor defaults, history size
// and log level. Other changes need a restart and are only logged.
func (s *Server) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if _, ok := s.materials.Lookup(cfg.Edit.IntermediateMaterial); !ok {
		s.logger.Warn("config reload rejected", "error", fmt.Sprintf("intermediate material %q is not defined", cfg.Edit.IntermediateMaterial))
		return
	}
	prev := s.Config()

	s.scheduler.SetBudget(cfg.Edit.BlockChangesPerSecond)
	s.scheduler.SetInterval(cfg.Edit.ChangeInterval.Duration())
	s.offline.SetTTL(cfg.Edit.OfflineUndoTTL.Duration())
	s.sessions.Configure(
		s.editorOptions(cfg, s.editJournal()),
		cfg.Edit.UndoHistorySize,
		cfg.Server.SessionRateLimit,
		cfg.Server.SessionBurst,
	)
	if cfg.Edit.UndoHistorySize != prev.Edit.UndoHistorySize {
		for _, e := range s.scheduler.Editors() {
			if err := e.History().SetMaxBufferSize(cfg.Edit.UndoHistorySize); err != nil {
				s.logger.Warn("resize undo history", "owner", e.ID(), "error", err)
			}
		}
	}
	if s.logLevel != nil {
		s.logLevel.Set(ParseLevel(cfg.Log.Level))
	}

	if cfg.Server.ListenAddress != prev.Server.ListenAddress ||
		cfg.World != prev.World ||
		cfg.Storage != prev.Storage ||
		cfg.Journal != prev.Journal {
		s.logger.Warn("listen, world, storage and journal changes apply after restart")
	}

	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
	s.logger.Info("config applied",
		"budget", s.scheduler.Budget(),
		"interval", s.scheduler.Interval(),
		"undoHistory", cfg.Edit.UndoHistorySize,
	)
}

// Close releases the world storage and the journal.
func (s *Server) Close() error {
	var errs []error
	if err := s.world.Close(); err != nil {
		errs = append(errs, fmt.Errorf("world: %w", err))
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}
	return errors.Join(errs...)
}
