package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/loykin/profilr/internal/devtools"
	"github.com/loykin/profilr/internal/gpm"
	"github.com/loykin/profilr/internal/metrics"
	"github.com/loykin/profilr/internal/profile"
)

const DefaultMaxConcurrent = 3

// discoverFunc matches devtools.Discover; swapped in tests.
type discoverFunc func(ctx context.Context, host string, port int, opts devtools.Options) string

// Config holds launch scheduler configuration.
type Config struct {
	MaxConcurrent int
	Launcher      *gpm.Client
	Discovery     devtools.Options
	Logger        *slog.Logger
}

// Manager owns the profile registry and drives every accepted launch request
// through the admission gate and its state machine:
// queued -> starting -> started | started_no_debug | error.
type Manager struct {
	reg      *profile.Registry
	launcher *gpm.Client
	disc     devtools.Options
	discover discoverFunc
	sem      *semaphore.Weighted
	max      int
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a manager. Zero config fields fall back to defaults.
func New(config Config) *Manager {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.Launcher == nil {
		config.Launcher = gpm.New(gpm.Config{})
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		reg:      profile.NewRegistry(),
		launcher: config.Launcher,
		disc:     config.Discovery,
		discover: devtools.Discover,
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrent)),
		max:      config.MaxConcurrent,
		logger:   config.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// MaxConcurrent returns the admission gate width.
func (m *Manager) MaxConcurrent() int { return m.max }

// Get returns the record for profileID, if any.
func (m *Manager) Get(profileID string) (profile.Record, bool) {
	return m.reg.Get(profileID)
}

// Snapshot returns a copy of every tracked record.
func (m *Manager) Snapshot() map[string]profile.Record {
	return m.reg.Snapshot()
}

// Close aborts launch tasks still waiting for an admission slot. It is used
// on shutdown; records of aborted tasks end in error state.
func (m *Manager) Close() {
	m.cancel()
}

// RequestLaunch accepts or rejects a launch request for profileID. A profile
// whose record is in any non-error state is already active and the request is
// rejected, returning that record untouched. Accepted work runs in the
// background; callers observe progress only through status queries.
func (m *Manager) RequestLaunch(profileID string) (profile.Record, bool) {
	accepted := false
	rec := m.reg.Update(profileID, func(r *profile.Record) {
		if r.Status.Active() {
			return
		}
		// Fresh record: a relaunch must not inherit stale debug info.
		*r = profile.Record{ProfileID: profileID, Status: profile.StatusQueued, StartedAt: time.Now()}
		accepted = true
	})
	if !accepted {
		metrics.IncLaunchRejected()
		m.logger.Debug("Launch rejected, profile already active", "profile_id", profileID, "status", rec.Status)
		return rec, false
	}
	m.logger.Info("Launch accepted", "profile_id", profileID)
	go m.runLaunch(profileID)
	return rec, true
}

// runLaunch drives one launch task. It never lets a failure escape; every
// path ends in a terminal record and releases its admission slot.
func (m *Manager) runLaunch(profileID string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Launch task panicked", "profile_id", profileID, "panic", r)
			m.reg.Update(profileID, func(rec *profile.Record) {
				rec.Status = profile.StatusError
				rec.Error = fmt.Sprintf("launch task panic: %v", r)
			})
		}
	}()

	metrics.AddLaunchWaiting(1)
	err := m.sem.Acquire(m.ctx, 1)
	metrics.AddLaunchWaiting(-1)
	if err != nil {
		m.reg.Update(profileID, func(rec *profile.Record) {
			rec.Status = profile.StatusError
			rec.Error = fmt.Sprintf("launch aborted: %v", err)
		})
		return
	}
	defer m.sem.Release(1)
	metrics.AddLaunchActive(1)
	defer metrics.AddLaunchActive(-1)

	m.reg.Update(profileID, func(rec *profile.Record) {
		rec.Status = profile.StatusStarting
		rec.StartedAt = time.Now()
	})

	res := m.launcher.Launch(m.ctx, profileID)
	final := m.applyResult(profileID, res)
	metrics.IncLaunch(string(final.Status))
	m.logger.Info("Launch finished", "profile_id", profileID, "status", final.Status)
}

// applyResult merges a launch result into the registry, running endpoint
// discovery for successful launches. A missing websocket URL is soft: the
// profile stays started.
func (m *Manager) applyResult(profileID string, res gpm.Result) profile.Record {
	switch res.Status {
	case profile.StatusStarted:
		start := time.Now()
		ws := m.discover(m.ctx, res.DebugHost, res.DebugPort, m.disc)
		metrics.ObserveDiscovery(time.Since(start).Seconds(), ws != "")
		if ws == "" {
			m.logger.Warn("No websocket URL discovered", "profile_id", profileID, "host", res.DebugHost, "port", res.DebugPort)
		}
		return m.reg.Update(profileID, func(rec *profile.Record) {
			rec.Status = profile.StatusStarted
			rec.DebugHost = res.DebugHost
			rec.DebugPort = res.DebugPort
			rec.WebSocketURL = ws
		})
	case profile.StatusStartedNoDebug:
		return m.reg.Update(profileID, func(rec *profile.Record) {
			rec.Status = profile.StatusStartedNoDebug
			rec.RawResponse = res.Raw
		})
	default:
		m.logger.Error("Launch failed", "profile_id", profileID, "error", res.Err)
		return m.reg.Update(profileID, func(rec *profile.Record) {
			rec.Status = profile.StatusError
			rec.Error = res.Err
		})
	}
}

// ResolveDebugAddress returns the address the injection engine should attach
// to for profileID: the stored websocket URL, a freshly discovered one, or
// the plain http debug endpoint as a last resort. It reports false when the
// profile has no known debug host/port at all.
func (m *Manager) ResolveDebugAddress(ctx context.Context, profileID string) (string, bool) {
	rec, ok := m.reg.Get(profileID)
	if !ok {
		return "", false
	}
	addr, ok := rec.DebugAddress()
	if !ok {
		return "", false
	}
	if rec.WebSocketURL != "" {
		return rec.WebSocketURL, true
	}
	if ws := m.discover(ctx, rec.DebugHost, rec.DebugPort, m.disc); ws != "" {
		return ws, true
	}
	return "http://" + addr, true
}
