package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/profilr/internal/config"
	"github.com/loykin/profilr/internal/inject"
	mng "github.com/loykin/profilr/internal/manager"
	"github.com/loykin/profilr/internal/metrics"
	"github.com/loykin/profilr/internal/profile"
	"github.com/loykin/profilr/internal/tls"
)

// Router provides embeddable HTTP handlers for the profile service.
// Endpoints:
//   GET  {basePath}/                     HTML overview with start/inject forms
//   POST {basePath}/start_profile        form: profile_id
//   GET  {basePath}/status               all tracked records
//   GET  {basePath}/status/:profile_id   single record, exists flag
//   POST {basePath}/inject               form: profile_id, script_url, inline_js
//   GET  {basePath}/healthz
//   GET  {basePath}/metrics
// basePath may be empty or start with '/'; no trailing slash.

// Injector runs script injection against a devtools address.
// *inject.Engine implements it.
type Injector interface {
	Inject(ctx context.Context, addr, scriptURL, inlineJS string) (inject.Stats, error)
}

type Router struct {
	mgr      *mng.Manager
	eng      Injector
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/status, /abc/inject, etc.
func NewRouter(mgr *mng.Manager, eng Injector, basePath string) *Router {
	bp := sanitizeBase(basePath)
	return &Router{mgr: mgr, eng: eng, basePath: bp}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.SetHTMLTemplate(indexTemplate)
	group := g.Group(r.basePath)
	group.GET("/", r.handleIndex)
	group.POST("/start_profile", r.handleStartProfile)
	group.GET("/status", r.handleStatus)
	group.GET("/status/:profile_id", r.handleStatusOne)
	group.POST("/inject", r.handleInject)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// The returned server can be shut down via http.Server's Close or Shutdown.
func NewServer(addr, basePath string, mgr *mng.Manager, eng Injector) (*http.Server, error) {
	r := NewRouter(mgr, eng, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// NewTLSServer is NewServer with an HTTPS listener configured from tc.
func NewTLSServer(addr, basePath string, tc config.TLS, mgr *mng.Manager, eng Injector) (*http.Server, error) {
	tlsConf, err := tls.Setup(tc)
	if err != nil {
		return nil, err
	}
	if tlsConf == nil {
		return nil, errors.New("tls is not enabled")
	}
	r := NewRouter(mgr, eng, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	// Cert paths stay empty: the pair comes from TLSConfig.GetCertificate.
	go func() { _ = server.ListenAndServeTLS("", "") }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// statusView is a registry record with a human readable start time attached.
type statusView struct {
	profile.Record
	StartedAtHuman string `json:"started_at_human,omitempty"`
}

func viewOf(rec profile.Record) statusView {
	return statusView{Record: rec, StartedAtHuman: profile.HumanTime(rec.StartedAt)}
}

type startResp struct {
	OK        bool            `json:"ok"`
	Message   string          `json:"message"`
	ProfileID string          `json:"profile_id,omitempty"`
	State     *profile.Record `json:"state,omitempty"`
}

type existsResp struct {
	Exists bool `json:"exists"`
}

type statusOneResp struct {
	statusView
	Exists bool `json:"exists"`
}

type injectResp struct {
	OK      bool          `json:"ok"`
	Message string        `json:"message,omitempty"`
	Stats   *inject.Stats `json:"stats,omitempty"`
}

func (r *Router) handleIndex(c *gin.Context) {
	snap := r.mgr.Snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	profiles := make([]statusView, 0, len(ids))
	for _, id := range ids {
		profiles = append(profiles, viewOf(snap[id]))
	}
	c.HTML(http.StatusOK, "index", indexData{
		BasePath:      r.basePath,
		MaxConcurrent: r.mgr.MaxConcurrent(),
		Profiles:      profiles,
	})
}

func (r *Router) handleStartProfile(c *gin.Context) {
	id := strings.TrimSpace(c.PostForm("profile_id"))
	if id == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "profile_id required"})
		return
	}
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid profile_id: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	rec, ok := r.mgr.RequestLaunch(id)
	if !ok {
		writeJSON(c, http.StatusOK, startResp{
			OK:      false,
			Message: "profile " + id + " already active",
			State:   &rec,
		})
		return
	}
	writeJSON(c, http.StatusOK, startResp{
		OK:        true,
		Message:   "starting profile " + id,
		ProfileID: id,
	})
}

func (r *Router) handleStatus(c *gin.Context) {
	snap := r.mgr.Snapshot()
	out := make(map[string]statusView, len(snap))
	for id, rec := range snap {
		out[id] = viewOf(rec)
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleStatusOne(c *gin.Context) {
	id := c.Param("profile_id")
	rec, ok := r.mgr.Get(id)
	if !ok {
		writeJSON(c, http.StatusOK, existsResp{Exists: false})
		return
	}
	writeJSON(c, http.StatusOK, statusOneResp{statusView: viewOf(rec), Exists: true})
}

func (r *Router) handleInject(c *gin.Context) {
	id := strings.TrimSpace(c.PostForm("profile_id"))
	if id == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "profile_id required"})
		return
	}
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid profile_id: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	addr, ok := r.mgr.ResolveDebugAddress(c.Request.Context(), id)
	if !ok {
		writeJSON(c, http.StatusOK, injectResp{OK: false, Message: "profile not started or missing debug host/port"})
		return
	}
	stats, err := r.eng.Inject(c.Request.Context(), addr, c.PostForm("script_url"), c.PostForm("inline_js"))
	if err != nil {
		metrics.IncInjection(false)
		writeJSON(c, http.StatusOK, injectResp{OK: false, Message: "inject failed: " + err.Error()})
		return
	}
	metrics.IncInjection(true)
	metrics.AddInjectedPages("url", stats.InjectedURL)
	metrics.AddInjectedPages("inline", stats.InjectedInline)
	writeJSON(c, http.StatusOK, injectResp{OK: true, Stats: &stats})
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
