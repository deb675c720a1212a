package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"wakegate/internal/activity"
	"wakegate/internal/auth"
	"wakegate/internal/config"
	"wakegate/internal/events"
	"wakegate/internal/health"
	"wakegate/internal/instance"
	"wakegate/internal/lifecycle"
	"wakegate/internal/logring"
	"wakegate/internal/probe"
	"wakegate/internal/relay"
	"wakegate/internal/resolve"
	"wakegate/internal/runtime/commands"
	"wakegate/internal/runtime/supervisor"
	"wakegate/internal/telemetry"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// BackendProbe answers reachability and player-count queries against the backend.
type BackendProbe interface {
	IsReachable(ctx context.Context) bool
	PlayerCount(ctx context.Context) (int, bool)
}

// GinServer assembles the relay, the lifecycle orchestrator and the dashboard
// API into one process.
type GinServer struct {
	cfg     config.Config
	version string
	router  *gin.Engine

	events        *events.Bus
	supervisor    *supervisor.Supervisor
	dispatcher    *commands.Dispatcher
	healthTracker *health.Tracker
	orchestrator  *lifecycle.Orchestrator
	listener      *relay.Listener
	resolver      *resolve.Resolver
	controller    lifecycle.InstanceController
	probe         BackendProbe
	logs          *logring.Ring
	credentials   auth.Credentials
	metrics       *telemetry.Metrics

	// Optional OpenAPI request validation
	apiValidator *openAPIValidator

	httpSrv *http.Server

	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}
}

// GinServerOption is a function that configures a GinServer.
type GinServerOption func(*GinServer)

// WithGinVersion sets the version reported by the API.
func WithGinVersion(version string) GinServerOption {
	return func(s *GinServer) {
		s.version = version
	}
}

// WithLogRing serves recent log lines from ring instead of a private buffer.
func WithLogRing(ring *logring.Ring) GinServerOption {
	return func(s *GinServer) {
		s.logs = ring
	}
}

// WithController replaces the configured instance controller.
func WithController(ctrl lifecycle.InstanceController) GinServerOption {
	return func(s *GinServer) {
		s.controller = ctrl
	}
}

// WithProbe replaces the server list ping probe.
func WithProbe(p BackendProbe) GinServerOption {
	return func(s *GinServer) {
		s.probe = p
	}
}

// NewGinServer wires every component from cfg. Nothing listens until Start.
func NewGinServer(cfg config.Config, opts ...GinServerOption) (*GinServer, error) {
	s := &GinServer{cfg: cfg, version: "dev"}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Dashboard.AdminPasswordHash != "" {
		if err := auth.ValidateHash(cfg.Dashboard.AdminPasswordHash); err != nil {
			return nil, fmt.Errorf("dashboard.admin_password_hash: %w", err)
		}
	}
	s.credentials = auth.Credentials{User: cfg.Dashboard.AdminUser, Hash: cfg.Dashboard.AdminPasswordHash}

	if s.controller == nil {
		ctrl, err := instance.New(instance.Options{
			Provider:  cfg.Instance.Provider,
			APIToken:  cfg.Instance.APIToken,
			DropletID: cfg.Instance.DropletID,
			BaseURL:   cfg.Instance.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("instance controller: %w", err)
		}
		s.controller = ctrl
	}

	s.resolver = resolve.New(resolve.Config{
		Host:      cfg.Backend.Host,
		Port:      cfg.Backend.Port,
		SRVLookup: cfg.Backend.SRVLookup,
	})
	if s.probe == nil {
		s.probe = probe.New(s.resolver, probe.Config{
			Timeout:         cfg.Probe.Timeout.D(),
			ProtocolVersion: cfg.Probe.ProtocolVersion,
		})
	}
	if s.logs == nil {
		s.logs = logring.New(cfg.Dashboard.LogLines)
	}

	s.metrics = telemetry.Install()
	s.events = events.NewBus()
	s.supervisor = supervisor.New()
	s.dispatcher = commands.NewDispatcher()
	s.dispatcher.Use(commands.AuditLog)
	s.healthTracker = health.NewTracker()

	registry := relay.NewRegistry()
	tracker := activity.NewTracker(registry, s.probe, cfg.Lifecycle.IdleTimeout.D())
	s.orchestrator = lifecycle.New(lifecycle.Options{
		Controller:     s.controller,
		Probe:          s.probe,
		Activity:       tracker,
		Events:         s.events,
		StartupTimeout: cfg.Lifecycle.StartupTimeout.D(),
		PollInterval:   cfg.Lifecycle.PollInterval.D(),
		CheckInterval:  cfg.Lifecycle.CheckInterval.D(),
	})
	lifecycle.RegisterHandlers(s.dispatcher, s.orchestrator)

	s.listener = relay.NewListener(relay.Config{
		Address:      cfg.ListenAddr(),
		Backend:      s.resolver,
		AcceptWait:   cfg.Listen.AcceptWait.D(),
		DialTimeout:  cfg.Backend.DialTimeout.D(),
		ReadyTimeout: cfg.Lifecycle.ReadyTimeout.D(),
		BufferSize:   cfg.Backend.BufferSize,
		RelayPoll:    cfg.Backend.RelayPoll.D(),
	}, s.orchestrator, registry, s.events)

	// Seed baseline health statuses
	s.healthTracker.Setf(health.ComponentListener, health.LevelWarn, "listener not started")
	s.healthTracker.Setf(health.ComponentBackend, health.LevelOK, "backend offline")
	if cfg.Dashboard.Enabled {
		s.healthTracker.Setf(health.ComponentDashboard, health.LevelWarn, "dashboard not started")
	}

	if cfg.Dashboard.ValidateAPI {
		if v, err := newOpenAPIValidator(); err == nil {
			s.apiValidator = v
		} else {
			log.Printf("WARN: OpenAPI validation disabled: %v", err)
		}
	}
	s.setupGinRoutes()

	s.supervisor.Register(newHealthObserver(s.events, s.healthTracker))
	s.supervisor.Register(supervisor.NewComponent("idle-monitor", s.orchestrator.StartBackground, s.orchestrator.Close))
	s.supervisor.Register(supervisor.NewComponent("listener", s.listener.Start, s.listener.Stop))
	if cfg.Dashboard.Enabled {
		s.supervisor.Register(supervisor.NewComponent("dashboard", s.startDashboard, s.stopDashboard))
	}
	return s, nil
}

// Handler exposes the dashboard router.
func (s *GinServer) Handler() http.Handler { return s.router }

// Orchestrator exposes the lifecycle orchestrator.
func (s *GinServer) Orchestrator() *lifecycle.Orchestrator { return s.orchestrator }

// ActiveConnections returns the number of relay sessions in flight.
func (s *GinServer) ActiveConnections() int { return s.listener.ActiveCount() }

// Metrics exposes the process meter provider.
func (s *GinServer) Metrics() *telemetry.Metrics { return s.metrics }

// ListenerAddr returns the bound client listener address, or nil before Start.
func (s *GinServer) ListenerAddr() net.Addr { return s.listener.Addr() }

// Start brings up every component and tells systemd the service is ready.
func (s *GinServer) Start(ctx context.Context) error {
	if err := s.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start runtime components: %w", err)
	}
	log.Printf("INFO: wakegate %s relaying %s -> %s", s.version, s.cfg.ListenAddr(), s.resolver.Fallback())

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("WARN: Failed to notify systemd of readiness: %v", err)
	} else if sent {
		log.Printf("INFO: Notified systemd that service is ready")
	}
	s.startWatchdog()
	return nil
}

// Stop shuts components down in reverse order.
func (s *GinServer) Stop(ctx context.Context) error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Printf("WARN: Failed to notify systemd of shutdown: %v", err)
	}
	s.stopWatchdog()
	err := s.supervisor.Stop(ctx)
	s.events.Close()
	if err != nil {
		log.Printf("WARN: Failed to stop components cleanly: %v", err)
		return err
	}
	log.Printf("INFO: wakegate stopped")
	return nil
}

func (s *GinServer) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Printf("WARN: systemd watchdog misconfigured: %v", err)
		return
	}
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.watchdogCancel = cancel
	s.watchdogDone = done
	log.Printf("INFO: systemd watchdog enabled, pinging every %s", interval/2)
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					log.Printf("WARN: systemd watchdog ping failed: %v", err)
				}
			}
		}
	}()
}

func (s *GinServer) stopWatchdog() {
	if s.watchdogCancel == nil {
		return
	}
	s.watchdogCancel()
	<-s.watchdogDone
	s.watchdogCancel = nil
}

func (s *GinServer) startDashboard(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Dashboard.Address)
	if err != nil {
		s.healthTracker.Setf(health.ComponentDashboard, health.LevelError, "%v", err)
		return fmt.Errorf("dashboard listen %s: %w", s.cfg.Dashboard.Address, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.httpSrv = srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: dashboard server stopped: %v", err)
			s.healthTracker.Setf(health.ComponentDashboard, health.LevelError, "%v", err)
		}
	}()
	log.Printf("INFO: Dashboard listening on http://%s", ln.Addr())
	s.healthTracker.Setf(health.ComponentDashboard, health.LevelOK, "listening on %s", ln.Addr())
	return nil
}

func (s *GinServer) stopDashboard(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)
	s.httpSrv = nil
	return err
}

// setupGinRoutes defines all API endpoints.
func (s *GinServer) setupGinRoutes() {
	r := gin.New()

	r.Use(s.requestLoggingMiddleware())
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(s.securityHeadersMiddleware())
	if s.apiValidator != nil {
		r.Use(s.apiValidator.Middleware())
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/openapi.yaml", s.handleOpenAPI)
		v1.GET("/status", s.handleStatus)
		v1.GET("/logs", s.handleLogs)
		v1.GET("/metrics", s.handleMetrics)
		v1.GET("/health/live", s.handleHealthLive)
		v1.GET("/health/ready", s.handleGinReadinessCheck)
		v1.GET("/health/detail", s.handleHealthDetail)

		admin := v1.Group("/backend")
		admin.Use(s.requireAdmin())
		admin.POST("/start", s.handleBackendStart)
		admin.POST("/stop", s.handleBackendStop)
	}
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": s.version})
	})

	s.router = r
}

// logWriter hands gin's access lines to the standard logger.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Print(string(p))
	return len(p), nil
}
