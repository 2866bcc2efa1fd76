package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/loomworks/loom/api"
	"github.com/loomworks/loom/api/handlers"
	"github.com/loomworks/loom/config"
	"github.com/loomworks/loom/history"
	"github.com/loomworks/loom/hitl"
	"github.com/loomworks/loom/internal/metrics"
	"github.com/loomworks/loom/internal/server"
	"github.com/loomworks/loom/scheduler"
	"github.com/loomworks/loom/store"
	"github.com/loomworks/loom/workflow"
	"github.com/loomworks/loom/workflow/nodes"
)

// Server wires every component together and owns their lifecycles.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	workspaces  *store.Workspaces
	wfStore     *store.WorkflowStore
	kvClose     func() error
	suspensions *hitl.Manager
	registry    *workflow.Registry
	engine      *workflow.Engine
	hist        *history.Store
	sched       *scheduler.Scheduler
	hub         *handlers.Hub
	httpServer  *server.Manager

	cancelBackground context.CancelFunc
}

// NewServer builds the full component graph from config.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	workspaces, err := store.NewWorkspaces(cfg.Workspace.Root, logger)
	if err != nil {
		return nil, err
	}
	s.workspaces = workspaces
	s.wfStore = store.NewWorkflowStore(workspaces, logger)

	var kv workflow.KV
	if cfg.Redis.Enabled {
		redisKV, err := store.DialRedis(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("redis backend: %w", err)
		}
		kv = redisKV
		s.kvClose = redisKV.Close
		logger.Info("persistent memory backed by redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		kv = store.NewMemoryKV()
		logger.Info("persistent memory backed by in-process store")
	}

	s.suspensions = hitl.NewManager(logger)
	collector := metrics.NewCollector(cfg.API.MetricsNS, logger)

	s.hub = handlers.NewHub(logger)
	s.hub.OnConnect = collector.ClientConnected
	s.hub.OnDisconnect = collector.ClientDisconnected

	s.registry = workflow.NewRegistry()
	s.engine = workflow.NewEngine(
		workflow.EngineConfig{MaxSubWorkflowDepth: cfg.Engine.MaxSubWorkflowDepth},
		logger,
		workflow.WithEngineSink(workflow.MultiSink(s.hub, collector.Sink())),
		workflow.WithEngineStore(kv),
	)
	nodes.Register(s.registry, nodes.Deps{
		Logger:      logger,
		Suspensions: s.suspensions,
		Loader:      s.wfStore,
		Runner:      s.engine,
		Registry:    s.registry,
	})

	if cfg.History.Enabled {
		hist, err := history.Open(cfg.History.Path, logger)
		if err != nil {
			return nil, err
		}
		s.hist = hist
	}

	if cfg.Scheduler.Enabled {
		s.sched = scheduler.New(s.wfStore, s.scheduledRun(collector), logger)
	}
	refresh := func() {}
	if s.sched != nil {
		refresh = s.sched.Refresh
	}

	health := handlers.NewHealthHandler(logger, Version)
	health.RegisterCheck(handlers.HealthCheckFunc{
		CheckName: "workspace_root",
		Fn: func(ctx context.Context) error {
			_, err := workspaces.List()
			return err
		},
	})
	health.RegisterCheck(handlers.HealthCheckFunc{
		CheckName: "kv",
		Fn: func(ctx context.Context) error {
			_, _, err := kv.Get(ctx, "health", "probe")
			return err
		},
	})

	mux := api.NewRouter(api.Handlers{
		Workflows:   handlers.NewWorkflowHandler(logger, s.wfStore, workspaces, s.registry, s.engine, s.hist, refresh),
		Suspensions: handlers.NewSuspensionHandler(logger, s.suspensions),
		Workspaces:  handlers.NewWorkspaceHandler(logger, workspaces, refresh),
		Runs:        handlers.NewRunHandler(logger, s.hist),
		Health:      health,
		Hub:         s.hub,
	})

	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancelBackground = cancel

	chain := []Middleware{
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		CORS(cfg.API.CORSOrigins),
		RequestLogger(logger),
		MetricsMiddleware(collector),
	}
	if cfg.API.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(bgCtx, cfg.API.RateLimitRPS, cfg.API.RateLimitBurst))
	}
	if cfg.API.Key != "" {
		chain = append(chain, APIKeyAuth(cfg.API.Key,
			[]string{"/health", "/ready", "/metrics", "/ws"}, logger))
	}
	handler := Chain(mux, chain...)

	s.httpServer = server.NewManager(handler, server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return s, nil
}

// scheduledRun is the callback the scheduler fires: load, compile,
// run, record.
func (s *Server) scheduledRun(collector *metrics.Collector) scheduler.RunFunc {
	return func(ctx context.Context, name string) {
		def, err := s.wfStore.Read(name)
		if err != nil {
			s.logger.Error("scheduled run: load workflow", zap.String("workflow", name), zap.Error(err))
			collector.RecordSchedulerFire(name, "error")
			return
		}
		graph, err := workflow.Compile(def, s.registry)
		if err != nil {
			s.logger.Error("scheduled run: compile workflow", zap.String("workflow", name), zap.Error(err))
			collector.RecordSchedulerFire(name, "error")
			return
		}

		workspace := s.workspaces.Active()
		res := s.engine.Run(ctx, graph, workflow.WithNamespace(workspace))
		if s.hist != nil {
			s.hist.Record(res, workspace)
		}
		collector.RecordRun(res)
		collector.RecordSchedulerFire(name, string(res.Status))
	}
}

// Start brings up the scheduler and the HTTP listener.
func (s *Server) Start() error {
	if s.sched != nil {
		s.sched.Start()
	}
	return s.httpServer.Start()
}

// WaitForShutdown blocks until a signal or serve error, then stops
// everything in dependency order.
func (s *Server) WaitForShutdown() error {
	err := s.httpServer.WaitForShutdown()
	s.shutdownComponents()
	return err
}

// Shutdown stops the server without waiting for a signal.
func (s *Server) Shutdown() error {
	err := s.httpServer.Shutdown()
	s.shutdownComponents()
	return err
}

func (s *Server) shutdownComponents() {
	if s.sched != nil {
		s.sched.Stop()
	}
	s.hub.Close()
	if s.cancelBackground != nil {
		s.cancelBackground()
	}
	if s.kvClose != nil {
		if err := s.kvClose(); err != nil {
			s.logger.Warn("close kv backend", zap.Error(err))
		}
	}
	s.logger.Info("server stopped")
}

// Addr exposes the bound listen address for tests.
func (s *Server) Addr() string {
	return s.httpServer.Addr()
}
