// Package server is the HTTP boundary of an rpcmesh node: routes, admission,
// stats, discovery heartbeats and graceful drain around the dispatcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/rpcmesh/internal/config"
	"github.com/morezero/rpcmesh/pkg/balancer"
	"github.com/morezero/rpcmesh/pkg/discovery"
	"github.com/morezero/rpcmesh/pkg/dispatcher"
	"github.com/morezero/rpcmesh/pkg/events"
	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/registry"
	"github.com/morezero/rpcmesh/pkg/stats"
)

const logPrefix = "server:server"

const shutdownTimeout = 5 * time.Second

// Options holds the collaborators of a Server.
type Options struct {
	Registry *registry.Registry
	// Auth resolves tokens for methods requiring auth. Nil rejects them all.
	Auth             dispatcher.Authenticator
	Interceptors     []dispatcher.Interceptor
	HTTPInterceptors []HTTPInterceptor
	// Balancer receives discovered endpoints. Defaults to a new one.
	Balancer *balancer.Balancer
	// Static lists the configured endpoints by tier then name. Discovery
	// keeps them in their pools alongside the announced ones.
	Static map[string]map[string][]balancer.Endpoint
	// Conn enables heartbeats and the discovery watcher when set.
	Conn *comms.Conn
	// Announcer overrides the heartbeat publisher built from Conn.
	Announcer events.Announcer
}

// Server is one rpcmesh node.
type Server struct {
	cfg              *config.Config
	reg              *registry.Registry
	stats            *stats.Statistics
	gate             *stats.Gate
	disp             *dispatcher.Dispatcher
	balancer         *balancer.Balancer
	httpInterceptors []HTTPInterceptor
	metrics          *serverMetrics
	nc               *comms.Conn
	announcer        events.Announcer
	static           map[string]map[string][]balancer.Endpoint
	draining         atomic.Bool
}

// New wires a Server from cfg and opts.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%s - config is required", logPrefix)
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("%s - registry is required", logPrefix)
	}
	b := opts.Balancer
	if b == nil {
		b = balancer.New()
	}
	st := stats.New(cfg.ServiceName, cfg.RecentTaskNum)
	s := &Server{
		cfg:              cfg,
		reg:              opts.Registry,
		stats:            st,
		gate:             stats.NewGate(st, cfg.MaxTaskQueue, cfg.ServiceAvailable),
		balancer:         b,
		httpInterceptors: opts.HTTPInterceptors,
		metrics:          newServerMetrics(cfg.ServiceName, st),
		nc:               opts.Conn,
		announcer:        opts.Announcer,
		static:           opts.Static,
	}
	if s.announcer == nil && s.nc != nil {
		s.announcer = events.NewCommsAnnouncer(s.nc)
	}
	s.disp = dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Config: dispatcher.Config{
			Address:     cfg.AdvertisedAddr(),
			Service:     cfg.ServiceName,
			Version:     cfg.Version,
			AuthFailure: protocol.StatusPair{Status: cfg.AuthErrorStatus, Info: cfg.AuthErrorInfo},
		},
		Registry:     opts.Registry,
		Auth:         opts.Auth,
		Interceptors: opts.Interceptors,
	})
	return s, nil
}

// Stats returns the request statistics.
func (s *Server) Stats() *stats.Statistics { return s.stats }

// Gate returns the admission gate.
func (s *Server) Gate() *stats.Gate { return s.gate }

// Balancer returns the endpoint balancer fed by discovery.
func (s *Server) Balancer() *balancer.Balancer { return s.balancer }

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+exactPath(s.cfg.ServicePath), s.handleService)
	mux.HandleFunc("GET "+exactPath(s.cfg.ExplainPath), s.handleExplain)
	mux.HandleFunc("GET "+exactPath(s.cfg.InfoPath), s.handleInfo)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.MetricsEnabled {
		mux.HandleFunc("GET /metrics", s.handleMetrics)
	}
	mux.HandleFunc("/", s.handleFallback)
	return mux
}

// exactPath turns a configured path into a pattern matching only that path.
func exactPath(p string) string {
	if strings.HasSuffix(p, "/") {
		return p + "{$}"
	}
	return p
}

// Announcement describes this node for heartbeats.
func (s *Server) Announcement() *events.EndpointAnnouncement {
	ep := balancer.Endpoint{
		Host:        s.cfg.OutHost,
		Port:        s.cfg.Port,
		ServicePath: s.cfg.ServicePath,
		ExplainPath: s.cfg.ExplainPath,
		InfoPath:    s.cfg.InfoPath,
		CPU:         s.cfg.CPU,
		MaxQueue:    s.cfg.MaxTaskQueue,
		Version:     s.cfg.Version,
	}.WithDefaults()
	return &events.EndpointAnnouncement{
		Tier:      s.cfg.Tier,
		Name:      s.cfg.ServiceName,
		Endpoint:  ep,
		CurTask:   int(s.stats.CurTask()),
		Available: s.gate.Available(),
	}
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, s.cfg.ListenAddr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln together with the day rollover timer,
// the heartbeat and the discovery watcher. When ctx is done it drains
// in-flight requests, stops announcing and shuts the listener down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	// Heartbeat and watcher outlive gctx so peers see the drain.
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	g.Go(func() error {
		slog.Info(fmt.Sprintf("%s - %s listening on %s", logPrefix, s.cfg.ServiceName, ln.Addr()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
		}
		return nil
	})
	g.Go(func() error {
		return stats.RunRollover(gctx, s.stats, s.cfg.RolloverInterval)
	})
	if s.announcer != nil {
		g.Go(func() error {
			return events.RunHeartbeat(bgCtx, s.announcer, s.cfg.HeartbeatInterval, s.Announcement)
		})
	}
	if s.nc != nil {
		w := discovery.NewWatcher(s.nc, s.balancer, s.cfg.EndpointTTL)
		w.SetStatic(s.static)
		g.Go(func() error {
			return w.Run(bgCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.draining.Store(true)
		stats.Drain(context.Background(), s.gate, s.cfg.ShutdownGrace, s.cfg.ShutdownPoll)
		stopBackground()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s - HTTP shutdown: %w", logPrefix, err)
		}
		slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
		return nil
	})
	return g.Wait()
}
