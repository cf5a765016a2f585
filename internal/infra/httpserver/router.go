package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appissues "github.com/bryanwahyu/shopwatch/internal/application/issues"
	appscans "github.com/bryanwahyu/shopwatch/internal/application/scans"
	domai "github.com/bryanwahyu/shopwatch/internal/domain/ai"
	"github.com/bryanwahyu/shopwatch/internal/domain/alerts"
	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
	domain "github.com/bryanwahyu/shopwatch/internal/domain/scans"
	mw "github.com/bryanwahyu/shopwatch/internal/middleware"
)

type Router struct {
	scansSvc *appscans.Service
	ledger   *appissues.Ledger
	pages    pages.Repository
	scans    domain.Repository
	issues   issues.Repository
	alerts   alerts.Repository
	log      *zap.Logger
}

type Deps struct {
	Scans   *appscans.Service
	Ledger  *appissues.Ledger
	Pages   pages.Repository
	ScanDB  domain.Repository
	Issues  issues.Repository
	Alerts  alerts.Repository
	Log     *zap.Logger
	APIKeys map[string]string
	Health  http.HandlerFunc
}

func NewRouter(d Deps) http.Handler {
	r := &Router{
		scansSvc: d.Scans,
		ledger:   d.Ledger,
		pages:    d.Pages,
		scans:    d.ScanDB,
		issues:   d.Issues,
		alerts:   d.Alerts,
		log:      d.Log,
	}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(mw.LoggingMiddleware(d.Log))
	mux.Use(mw.MetricsMiddleware)

	if d.Health != nil {
		mux.Get("/health", d.Health)
	} else {
		mux.Get("/health", mw.LivenessHandler)
	}
	mux.Get("/metrics", mw.MetricsHandler)

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		rt.Use(mw.APIKeyAuth(d.APIKeys))
		rt.Use(mw.RateLimitMiddleware(60, 2))
		rt.Use(requireTenantMatch)

		rt.Post("/pages", r.wrap(r.handleRegisterPage))
		rt.Get("/pages", r.wrap(r.handleListPages))
		rt.Post("/pages/{pageID}/scan", r.wrap(r.handleTriggerScan))
		rt.Post("/pages/{pageID}/enable", r.wrap(r.handleEnablePage))
		rt.Post("/pages/{pageID}/disable", r.wrap(r.handleDisablePage))
		rt.Get("/pages/{pageID}/issues", r.wrap(r.handleListIssues))
		rt.Get("/pages/{pageID}/scans/latest", r.wrap(r.handleLatestScans))
		rt.Get("/scans/{id}", r.wrap(r.handleGetScan))
		rt.Post("/sweep", r.wrap(r.handleSweep))
		rt.Post("/issues/{id}/acknowledge", r.wrap(r.handleAcknowledge))
		rt.Post("/issues/{id}/reopen", r.wrap(r.handleReopen))
		rt.Post("/issues/{id}/resolve", r.wrap(r.handleResolve))
		rt.Get("/issues/{id}/alerts", r.wrap(r.handleIssueAlerts))
	})

	return mux
}

// requireTenantMatch rejects a request whose URL tenant differs from the
// tenant the API key authenticates.
func requireTenantMatch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		urlTenant := chi.URLParam(req, "tenant")
		authTenant := mw.GetTenantFromContext(req.Context())
		if err := mw.ValidateTenantID(urlTenant); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if authTenant != "" && authTenant != urlTenant {
			http.Error(w, "tenant mismatch", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, req)
	})
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks handler errors caused by the caller.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var br badRequest
			switch {
			case errors.Is(err, sql.ErrNoRows), errors.Is(err, pages.ErrNotFound), errors.Is(err, issues.ErrNotFound):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, domai.ErrQuotaExceeded):
				http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
			case errors.As(err, &br):
				http.Error(w, br.Error(), http.StatusBadRequest)
			default:
				r.log.Error("handler error", zap.String("path", req.URL.Path), zap.Error(err))
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// POST /v1/{tenant}/pages
// Body: {"url": "https://shop.example.com/p/123"}
func (r *Router) handleRegisterPage(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")

	var body struct {
		URL     string `json:"url"`
		Enabled *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest{err}
	}
	if err := mw.ValidatePageURL(body.URL); err != nil {
		return badRequest{err}
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	page := &pages.MonitoredPage{
		ID:       pages.PageID(uuid.New().String()),
		TenantID: tenant,
		URL:      body.URL,
		Enabled:  enabled,
		Health:   pages.HealthPending,
	}
	if err := r.pages.Save(req.Context(), page); err != nil {
		return err
	}

	w.WriteHeader(http.StatusCreated)
	return writeJSON(w, page)
}

// GET /v1/{tenant}/pages
func (r *Router) handleListPages(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	list, err := r.pages.ListByTenant(req.Context(), tenant)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// POST /v1/{tenant}/pages/{pageID}/scan
// Body (optional): {"depth": "quick|deep"}
func (r *Router) handleTriggerScan(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	pageID := pages.PageID(chi.URLParam(req, "pageID"))

	page, err := r.ownedPage(req, tenant, pageID)
	if err != nil {
		return err
	}

	var body struct {
		Depth string `json:"depth"`
	}
	if req.Body != nil && req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return badRequest{err}
		}
	}
	var forced domain.Depth
	switch body.Depth {
	case "":
	case string(domain.DepthQuick):
		forced = domain.DepthQuick
	case string(domain.DepthDeep):
		forced = domain.DepthDeep
	default:
		return badRequest{fmt.Errorf("invalid depth: %s", body.Depth)}
	}

	res, err := r.scansSvc.TriggerScan(req.Context(), page.ID, forced)
	if err != nil {
		return err
	}
	if res.Status == appscans.TriggerEnqueued {
		mw.IncrementScans()
	}
	w.Header().Set("Content-Type", "application/json")
	if res.Status == appscans.TriggerSkipped {
		w.WriteHeader(http.StatusConflict)
	} else {
		w.WriteHeader(http.StatusAccepted)
	}
	return json.NewEncoder(w).Encode(map[string]any{
		"status":    res.Status,
		"reason":    res.Reason,
		"queuedAt":  time.Now(),
		"page_id":   page.ID,
		"tenant_id": tenant,
	})
}

// POST /v1/{tenant}/sweep
func (r *Router) handleSweep(w http.ResponseWriter, req *http.Request) error {
	n, err := r.scansSvc.TriggerScheduledSweep(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, map[string]any{"enqueued": n})
}

// POST /v1/{tenant}/pages/{pageID}/enable
func (r *Router) handleEnablePage(w http.ResponseWriter, req *http.Request) error {
	return r.setEnabled(w, req, true)
}

// POST /v1/{tenant}/pages/{pageID}/disable
func (r *Router) handleDisablePage(w http.ResponseWriter, req *http.Request) error {
	return r.setEnabled(w, req, false)
}

func (r *Router) setEnabled(w http.ResponseWriter, req *http.Request, enabled bool) error {
	tenant := chi.URLParam(req, "tenant")
	pageID := pages.PageID(chi.URLParam(req, "pageID"))

	page, err := r.ownedPage(req, tenant, pageID)
	if err != nil {
		return err
	}
	if err := r.pages.SetEnabled(req.Context(), page.ID, enabled); err != nil {
		return err
	}
	page.Enabled = enabled
	return writeJSON(w, page)
}

// GET /v1/{tenant}/pages/{pageID}/issues?visibility=active|all
func (r *Router) handleListIssues(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	pageID := pages.PageID(chi.URLParam(req, "pageID"))

	page, err := r.ownedPage(req, tenant, pageID)
	if err != nil {
		return err
	}

	vis := issues.VisibilityActive
	switch req.URL.Query().Get("visibility") {
	case "", string(issues.VisibilityActive):
	case string(issues.VisibilityAll):
		vis = issues.VisibilityAll
	default:
		return badRequest{fmt.Errorf("invalid visibility: %s", req.URL.Query().Get("visibility"))}
	}

	list, err := r.issues.ListByPage(req.Context(), page.ID, vis)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/pages/{pageID}/scans/latest?limit=20
func (r *Router) handleLatestScans(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	pageID := pages.PageID(chi.URLParam(req, "pageID"))

	page, err := r.ownedPage(req, tenant, pageID)
	if err != nil {
		return err
	}

	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	limit = mw.ValidateLimit(limit)

	list, err := r.scans.LatestByPage(req.Context(), page.ID, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/scans/{id}
func (r *Router) handleGetScan(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")

	scan, err := r.scans.Get(req.Context(), tenant, domain.ScanID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, scan)
}

// POST /v1/{tenant}/issues/{id}/acknowledge
func (r *Router) handleAcknowledge(w http.ResponseWriter, req *http.Request) error {
	iss, err := r.ownedIssue(req)
	if err != nil {
		return err
	}
	out, err := r.ledger.Acknowledge(req.Context(), iss.ID)
	if err != nil {
		return badRequest{err}
	}
	return writeJSON(w, out)
}

// POST /v1/{tenant}/issues/{id}/reopen
func (r *Router) handleReopen(w http.ResponseWriter, req *http.Request) error {
	iss, err := r.ownedIssue(req)
	if err != nil {
		return err
	}
	out, err := r.ledger.Reopen(req.Context(), iss.ID)
	if err != nil {
		return err
	}
	return writeJSON(w, out)
}

// POST /v1/{tenant}/issues/{id}/resolve
func (r *Router) handleResolve(w http.ResponseWriter, req *http.Request) error {
	iss, err := r.ownedIssue(req)
	if err != nil {
		return err
	}
	out, err := r.ledger.Resolve(req.Context(), iss.ID)
	if err != nil {
		return err
	}
	mw.IncrementIssuesResolved()
	return writeJSON(w, out)
}

// GET /v1/{tenant}/issues/{id}/alerts
func (r *Router) handleIssueAlerts(w http.ResponseWriter, req *http.Request) error {
	iss, err := r.ownedIssue(req)
	if err != nil {
		return err
	}
	list, err := r.alerts.ListByIssue(req.Context(), iss.ID)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// ownedPage loads a page and checks it belongs to the URL tenant.
func (r *Router) ownedPage(req *http.Request, tenant string, pageID pages.PageID) (*pages.MonitoredPage, error) {
	page, err := r.pages.Get(req.Context(), pageID)
	if err != nil {
		return nil, err
	}
	if page.TenantID != tenant {
		return nil, pages.ErrNotFound
	}
	return page, nil
}

// ownedIssue loads an issue and checks it belongs to the URL tenant.
func (r *Router) ownedIssue(req *http.Request) (*issues.Issue, error) {
	tenant := chi.URLParam(req, "tenant")
	id := issues.IssueID(chi.URLParam(req, "id"))
	iss, err := r.issues.Get(req.Context(), id)
	if err != nil {
		return nil, err
	}
	if iss.TenantID != tenant {
		return nil, issues.ErrNotFound
	}
	return iss, nil
}
