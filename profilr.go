package profilr

import (
	"context"
	"errors"
	"net/http"
	"time"

	cfg "github.com/loykin/profilr/internal/config"
	"github.com/loykin/profilr/internal/devtools"
	"github.com/loykin/profilr/internal/gpm"
	"github.com/loykin/profilr/internal/inject"
	"github.com/loykin/profilr/internal/manager"
	"github.com/loykin/profilr/internal/metrics"
	"github.com/loykin/profilr/internal/profile"
	iapi "github.com/loykin/profilr/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = profile.Record

type Status = profile.Status

type Window = gpm.Window

type Stats = inject.Stats

type DiscoveryOptions = devtools.Options

type Config = cfg.Config

type TLSConfig = cfg.TLS

// Launch states tracked by the registry.
const (
	StatusQueued         = profile.StatusQueued
	StatusStarting       = profile.StatusStarting
	StatusStarted        = profile.StatusStarted
	StatusStartedNoDebug = profile.StatusStartedNoDebug
	StatusError          = profile.StatusError
)

// ErrNotStarted is returned by Inject when the profile has no usable debug
// endpoint, either because it never started or because discovery found none.
var ErrNotStarted = errors.New("profile not started or missing debug host/port")

// Service is a thin facade over the internal launch manager and injection
// engine. It provides a stable public API for embedding.

type Service struct {
	mgr *manager.Manager
	eng *inject.Engine
}

// New creates a service using the built-in defaults: a profile manager on
// 127.0.0.1:19995 and at most three concurrent launches.
func New() *Service { return NewFromConfig(cfg.Default()) }

// NewFromConfig assembles the launch client, scheduler and injection engine
// described by c.
func NewFromConfig(c Config) *Service {
	launcher := gpm.New(gpm.Config{
		BaseURL: c.Upstream.BaseURL,
		Token:   c.Upstream.Token,
		Timeout: c.Upstream.Timeout,
		Window:  c.Launch.Window(),
	})
	mgr := manager.New(manager.Config{
		MaxConcurrent: c.Launch.MaxConcurrent,
		Launcher:      launcher,
		Discovery:     c.Discovery.Options(),
	})
	eng := inject.New(inject.Config{FallbackScript: c.Inject.FallbackScript})
	return &Service{mgr: mgr, eng: eng}
}

// RequestLaunch asks for a fire-and-forget launch of one profile. The second
// return value is false when the profile is already queued, starting or
// started; the returned record then shows the blocking state.
func (s *Service) RequestLaunch(profileID string) (Record, bool) {
	return s.mgr.RequestLaunch(profileID)
}

func (s *Service) Get(profileID string) (Record, bool) { return s.mgr.Get(profileID) }
func (s *Service) Snapshot() map[string]Record         { return s.mgr.Snapshot() }
func (s *Service) MaxConcurrent() int                  { return s.mgr.MaxConcurrent() }

// Close stops background launch tasks. In-flight launches are abandoned.
func (s *Service) Close() { s.mgr.Close() }

// Inject pushes a script payload into every open page of a started profile.
// scriptURL and inlineJS may both be empty; the engine then reads its
// configured fallback script file.
func (s *Service) Inject(ctx context.Context, profileID, scriptURL, inlineJS string) (Stats, error) {
	addr, ok := s.mgr.ResolveDebugAddress(ctx, profileID)
	if !ok {
		return Stats{}, ErrNotStarted
	}
	return s.eng.Inject(ctx, addr, scriptURL, inlineJS)
}

func LoadConfig(path string) (Config, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing the service API backed by s.
func NewHTTPServer(addr, basePath string, s *Service) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.mgr, s.eng)
}

// NewTLSServer starts an HTTPS server exposing the service API backed by s.
// tc must be enabled and name a certificate source; with AutoGenerate set a
// self-signed pair is minted into tc.Dir on first start.
func NewTLSServer(addr, basePath string, tc TLSConfig, s *Service) (*http.Server, error) {
	return iapi.NewTLSServer(addr, basePath, tc, s.mgr, s.eng)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
