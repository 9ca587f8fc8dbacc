// Package httpapi implements the HTTP API gateway for msaidizi.
//
// Security:
//   - API key authentication on every /api route (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/jkaninda/msaidizi/internal/gradient"
	"github.com/jkaninda/msaidizi/internal/observability"
	"github.com/jkaninda/msaidizi/internal/provision"
	"github.com/jkaninda/msaidizi/internal/resourcekey"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Provisioner is the slice of the provisioning orchestrator the
// gateway drives.
type Provisioner interface {
	GetOrCreateKnowledgeBase(ctx context.Context, websiteURL string) (*provision.KnowledgeBase, error)
	GetOrCreateAgent(ctx context.Context, websiteURL string, waitForDeployment bool) (*provision.Agent, error)
	AgentStatus(ctx context.Context, key string) (*provision.Agent, error)
}

// KnowledgeService manages knowledge base data sources and indexing
// jobs. Implemented by gradient.Client.
type KnowledgeService interface {
	AddWebCrawlerDataSource(ctx context.Context, kbID, baseURL string) (string, error)
	AddFileDataSource(ctx context.Context, kbID, fileName, objectKey, size string) (string, error)
	CreatePresignedFileUploads(ctx context.Context, files []gradient.PresignedFile) ([]gradient.PresignedUpload, error)
	StartIndexingJob(ctx context.Context, kbID string, dataSourceIDs []string) (*gradient.IndexingJob, error)
	GetIndexingJob(ctx context.Context, jobID string) (*gradient.IndexingJob, error)
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → client ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config      Config
	provisioner Provisioner
	sessions    provision.SessionStore
	knowledge   KnowledgeService // nil = knowledge endpoints disabled.
	logger      *slog.Logger
	server      *http.Server

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, p Provisioner, sessions provision.SessionStore, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:      cfg,
		provisioner: p,
		sessions:    sessions,
		logger:      logger,
		okapi:       okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithKnowledgeService attaches data source and indexing job
// management to the gateway.
func (g *Gateway) WithKnowledgeService(ks KnowledgeService) *Gateway {
	g.knowledge = ks
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Msaidizi",
			Version: "v0.0.1",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	g.registerRoutes()

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

func (g *Gateway) registerRoutes() {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /api/v1 group.
	g.group = g.okapi.Group("/api/v1", g.authenticate)

	// Session endpoints.
	g.group.Post("/sessions", g.handleSessionCreate,
		okapi.DocSummary("Create a session and provision its support agent"),
		okapi.DocTags("Sessions"),
		okapi.DocRequestBody(SessionRequest{}),
		okapi.DocResponse(http.StatusCreated, SessionResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/sessions/{id}", g.handleSessionGet,
		okapi.DocSummary("Get a session by ID"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocResponse(SessionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Website registration.
	g.group.Post("/websites/scrape", g.handleWebsiteScrape,
		okapi.DocSummary("Register a website: knowledge base + support agent"),
		okapi.DocTags("Websites"),
		okapi.DocRequestBody(ScrapeRequest{}),
		okapi.DocResponse(ScrapeResponse{}),
		okapi.DocResponse(http.StatusAccepted, ScrapeResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusBadGateway, ErrorBody{}),
	)

	// Agent status.
	g.group.Get("/agents/{tenant}", g.handleAgentStatus,
		okapi.DocSummary("Get provisioning status for a tenant's support agent"),
		okapi.DocTags("Agents"),
		okapi.DocPathParam("tenant", "string", "Tenant resource key"),
		okapi.DocResponse(AgentResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Knowledge endpoints (only if a knowledge service is configured).
	if g.knowledge != nil {
		g.group.Post("/knowledge/url", g.handleKnowledgeURL,
			okapi.DocSummary("Add a URL data source and start indexing"),
			okapi.DocTags("Knowledge"),
			okapi.DocRequestBody(KnowledgeURLRequest{}),
			okapi.DocResponse(http.StatusAccepted, IndexingJobResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Post("/knowledge/file", g.handleKnowledgeFile,
			okapi.DocSummary("Register an uploaded file as a data source and start indexing"),
			okapi.DocTags("Knowledge"),
			okapi.DocRequestBody(KnowledgeFileRequest{}),
			okapi.DocResponse(http.StatusAccepted, IndexingJobResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Post("/knowledge/uploads", g.handleKnowledgeUploads,
			okapi.DocSummary("Request presigned upload slots for knowledge files"),
			okapi.DocTags("Knowledge"),
			okapi.DocRequestBody(UploadsRequest{}),
			okapi.DocResponse(UploadsResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Get("/knowledge/jobs/{id}", g.handleKnowledgeJob,
			okapi.DocSummary("Get indexing job status"),
			okapi.DocTags("Knowledge"),
			okapi.DocPathParam("id", "string", "Indexing job ID"),
			okapi.DocResponse(IndexingJobResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Session handlers ---

// SessionRequest is the JSON body for POST /api/v1/sessions.
type SessionRequest struct {
	WebsiteURL string `json:"website_url"`
}

// SessionResponse is the JSON response for session endpoints.
type SessionResponse struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	WebsiteURL     string         `json:"website_url"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	Agent          *AgentResponse `json:"agent,omitempty"`
}

func (g *Gateway) handleSessionCreate(c *okapi.Context) error {
	var req SessionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.WebsiteURL == "" {
		return c.AbortBadRequest("website_url is required")
	}

	correlationID := newCorrelationID()
	tenantID := resourcekey.Derive(req.WebsiteURL)
	now := time.Now().UTC()

	session := &provision.Session{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		WebsiteURL:     req.WebsiteURL,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := g.sessions.Create(c.Context(), session); err != nil {
		g.logger.Error("session create failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("session creation failed")
	}

	g.logger.Info("session created",
		slog.String("session_id", session.ID),
		slog.String("tenant_id", tenantID),
		slog.String("correlation_id", correlationID),
	)

	// Agent provisioning is non-blocking: the session is usable before
	// the deployment resolves, and a miss here hands the record to the
	// background reconciler.
	agent, err := g.provisioner.GetOrCreateAgent(c.Context(), req.WebsiteURL, false)
	resp := SessionResponse{
		ID:             session.ID,
		TenantID:       session.TenantID,
		WebsiteURL:     session.WebsiteURL,
		CreatedAt:      session.CreatedAt,
		LastActivityAt: session.LastActivityAt,
	}
	if err != nil {
		g.logger.Warn("agent provisioning during session create",
			slog.String("tenant_id", tenantID),
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
	if agent != nil {
		ar := toAgentResponse(agent)
		resp.Agent = &ar
	}

	return c.JSON(http.StatusCreated, resp)
}

func (g *Gateway) handleSessionGet(c *okapi.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.AbortBadRequest("invalid session ID")
	}

	session, err := g.sessions.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, provision.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
		}
		return c.AbortInternalServerError("session lookup failed")
	}

	// Reads count as activity.
	if err := g.sessions.Touch(c.Context(), id, time.Now().UTC()); err != nil {
		g.logger.Warn("session touch failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}

	return c.OK(SessionResponse{
		ID:             session.ID,
		TenantID:       session.TenantID,
		WebsiteURL:     session.WebsiteURL,
		CreatedAt:      session.CreatedAt,
		LastActivityAt: session.LastActivityAt,
	})
}

// --- Website registration ---

// ScrapeRequest is the JSON body for POST /api/v1/websites/scrape.
type ScrapeRequest struct {
	WebsiteURL        string `json:"website_url"`
	WaitForDeployment bool   `json:"wait_for_deployment,omitempty"`
}

// ScrapeResponse reports the provisioning state after registration.
// Status "provisioning" (HTTP 202) is retryable; "failed" is not.
type ScrapeResponse struct {
	Status        string                 `json:"status"` // "ready", "provisioning", or "failed"
	TenantID      string                 `json:"tenant_id"`
	KnowledgeBase *KnowledgeBaseResponse `json:"knowledge_base,omitempty"`
	Agent         *AgentResponse         `json:"agent,omitempty"`
	Detail        string                 `json:"detail,omitempty"`
}

// KnowledgeBaseResponse is the wire shape of a knowledge base record.
type KnowledgeBaseResponse struct {
	Key        string `json:"key"`
	ProviderID string `json:"provider_id"`
	WebsiteURL string `json:"website_url"`
	DatabaseID string `json:"database_id,omitempty"`
}

// AgentResponse is the wire shape of an agent record. The access key
// is deliberately omitted: it is served to the chat runtime internally,
// never over the management API.
type AgentResponse struct {
	Key              string    `json:"key"`
	ProviderID       string    `json:"provider_id"`
	DeploymentURL    string    `json:"deployment_url,omitempty"`
	DeploymentStatus string    `json:"deployment_status"`
	WebsiteURL       string    `json:"website_url"`
	KnowledgeBaseIDs []string  `json:"knowledge_base_ids,omitempty"`
	Ready            bool      `json:"ready"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toAgentResponse(a *provision.Agent) AgentResponse {
	return AgentResponse{
		Key:              a.Key,
		ProviderID:       a.ProviderID,
		DeploymentURL:    a.DeploymentURL,
		DeploymentStatus: string(a.DeploymentStatus),
		WebsiteURL:       a.WebsiteURL,
		KnowledgeBaseIDs: a.KnowledgeBaseIDs,
		Ready:            a.Ready(),
		UpdatedAt:        a.UpdatedAt,
	}
}

func (g *Gateway) handleWebsiteScrape(c *okapi.Context) error {
	var req ScrapeRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.WebsiteURL == "" {
		return c.AbortBadRequest("website_url is required")
	}

	correlationID := newCorrelationID()
	tenantID := resourcekey.Derive(req.WebsiteURL)

	g.logger.Info("website registration",
		slog.String("tenant_id", tenantID),
		slog.String("correlation_id", correlationID),
		slog.Bool("wait", req.WaitForDeployment),
	)

	kb, kbErr := g.provisioner.GetOrCreateKnowledgeBase(c.Context(), req.WebsiteURL)
	agent, err := g.provisioner.GetOrCreateAgent(c.Context(), req.WebsiteURL, req.WaitForDeployment)

	code, resp := scrapeOutcome(tenantID, kb, kbErr, agent, err)
	if code == http.StatusInternalServerError {
		g.logger.Error("website registration failed",
			slog.String("tenant_id", tenantID),
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("provisioning failed")
	}
	return c.JSON(code, resp)
}

// scrapeOutcome maps a provisioning result onto the registration
// response. Timeouts and pending linking are retryable (202); a
// terminal deployment failure is not (502).
func scrapeOutcome(tenantID string, kb *provision.KnowledgeBase, kbErr error, agent *provision.Agent, err error) (int, ScrapeResponse) {
	resp := ScrapeResponse{TenantID: tenantID}
	if kb != nil {
		resp.KnowledgeBase = &KnowledgeBaseResponse{
			Key:        kb.Key,
			ProviderID: kb.ProviderID,
			WebsiteURL: kb.WebsiteURL,
			DatabaseID: kb.DatabaseID,
		}
	} else if kbErr != nil {
		resp.Detail = "knowledge base provisioning failed; agent created without one"
	}
	if agent != nil {
		ar := toAgentResponse(agent)
		resp.Agent = &ar
	}

	if err != nil {
		var (
			timeoutErr *provision.DeploymentTimeoutError
			failedErr  *provision.DeploymentFailedError
			linkErr    *provision.LinkingError
		)
		switch {
		case errors.As(err, &timeoutErr):
			// Still deploying: the record is persisted and the next
			// request (or the sweep) resumes reconciliation.
			resp.Status = "provisioning"
			resp.Detail = "deployment in progress; retry later"
			return http.StatusAccepted, resp
		case errors.As(err, &failedErr):
			resp.Status = "failed"
			resp.Detail = err.Error()
			return http.StatusBadGateway, resp
		case errors.As(err, &linkErr):
			// Agent reachable, linking partially done; repaired on a
			// later lookup.
			resp.Status = "ready"
			resp.Detail = "agent reachable; knowledge linking pending"
			return http.StatusAccepted, resp
		default:
			return http.StatusInternalServerError, resp
		}
	}

	if agent.Ready() {
		resp.Status = "ready"
		return http.StatusOK, resp
	}
	resp.Status = "provisioning"
	return http.StatusAccepted, resp
}

// --- Agent status ---

func (g *Gateway) handleAgentStatus(c *okapi.Context) error {
	tenant := c.Param("tenant")
	if tenant == "" {
		return c.AbortBadRequest("tenant is required")
	}

	agent, err := g.provisioner.AgentStatus(c.Context(), tenant)
	if err != nil {
		if errors.Is(err, provision.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "agent not found"})
		}
		var linkErr *provision.LinkingError
		if errors.As(err, &linkErr) && agent != nil {
			// Reachable but not fully linked: still report it.
			return c.OK(toAgentResponse(agent))
		}
		return c.AbortInternalServerError("agent lookup failed")
	}

	return c.OK(toAgentResponse(agent))
}

// --- Knowledge handlers ---

// KnowledgeURLRequest is the JSON body for POST /api/v1/knowledge/url.
type KnowledgeURLRequest struct {
	WebsiteURL string `json:"website_url"` // Tenant website (resolves the knowledge base).
	URL        string `json:"url"`         // Page or site to crawl and index.
}

// KnowledgeFileRequest is the JSON body for POST /api/v1/knowledge/file.
// The file must already be uploaded to a presigned slot.
type KnowledgeFileRequest struct {
	WebsiteURL string `json:"website_url"`
	FileName   string `json:"file_name"`
	ObjectKey  string `json:"object_key"`
	FileSize   string `json:"file_size,omitempty"`
}

// IndexingJobResponse is the JSON response for indexing job endpoints.
type IndexingJobResponse struct {
	ID                   string `json:"id"`
	KnowledgeBaseID      string `json:"knowledge_base_id"`
	Status               string `json:"status"`
	Phase                string `json:"phase,omitempty"`
	CompletedDataSources int    `json:"completed_data_sources"`
	TotalDataSources     int    `json:"total_data_sources"`
}

func toIndexingJobResponse(job *gradient.IndexingJob) IndexingJobResponse {
	return IndexingJobResponse{
		ID:                   job.UUID,
		KnowledgeBaseID:      job.KnowledgeBaseUUID,
		Status:               job.Status,
		Phase:                job.Phase,
		CompletedDataSources: job.CompletedDataSources,
		TotalDataSources:     job.TotalDataSources,
	}
}

func (g *Gateway) handleKnowledgeURL(c *okapi.Context) error {
	var req KnowledgeURLRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.WebsiteURL == "" || req.URL == "" {
		return c.AbortBadRequest("website_url and url are required")
	}

	kb, err := g.provisioner.GetOrCreateKnowledgeBase(c.Context(), req.WebsiteURL)
	if err != nil {
		g.logger.Error("knowledge base resolution failed",
			slog.String("website_url", req.WebsiteURL),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("knowledge base unavailable")
	}

	dsID, err := g.knowledge.AddWebCrawlerDataSource(c.Context(), kb.ProviderID, req.URL)
	if err != nil {
		g.logger.Error("adding url data source failed",
			slog.String("kb_id", kb.ProviderID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("adding data source failed")
	}

	job, err := g.knowledge.StartIndexingJob(c.Context(), kb.ProviderID, []string{dsID})
	if err != nil {
		g.logger.Error("starting indexing job failed",
			slog.String("kb_id", kb.ProviderID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("starting indexing job failed")
	}

	return c.JSON(http.StatusAccepted, toIndexingJobResponse(job))
}

func (g *Gateway) handleKnowledgeFile(c *okapi.Context) error {
	var req KnowledgeFileRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.WebsiteURL == "" || req.FileName == "" || req.ObjectKey == "" {
		return c.AbortBadRequest("website_url, file_name and object_key are required")
	}

	kb, err := g.provisioner.GetOrCreateKnowledgeBase(c.Context(), req.WebsiteURL)
	if err != nil {
		return c.AbortInternalServerError("knowledge base unavailable")
	}

	dsID, err := g.knowledge.AddFileDataSource(c.Context(), kb.ProviderID, req.FileName, req.ObjectKey, req.FileSize)
	if err != nil {
		g.logger.Error("adding file data source failed",
			slog.String("kb_id", kb.ProviderID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("adding data source failed")
	}

	job, err := g.knowledge.StartIndexingJob(c.Context(), kb.ProviderID, []string{dsID})
	if err != nil {
		return c.AbortInternalServerError("starting indexing job failed")
	}

	return c.JSON(http.StatusAccepted, toIndexingJobResponse(job))
}

// UploadsRequest is the JSON body for POST /api/v1/knowledge/uploads.
type UploadsRequest struct {
	Files []gradient.PresignedFile `json:"files"`
}

// UploadsResponse carries the presigned upload slots.
type UploadsResponse struct {
	Uploads []gradient.PresignedUpload `json:"uploads"`
}

func (g *Gateway) handleKnowledgeUploads(c *okapi.Context) error {
	var req UploadsRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if len(req.Files) == 0 {
		return c.AbortBadRequest("files is required")
	}

	uploads, err := g.knowledge.CreatePresignedFileUploads(c.Context(), req.Files)
	if err != nil {
		g.logger.Error("presigned upload request failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("presigned upload request failed")
	}

	return c.OK(UploadsResponse{Uploads: uploads})
}

func (g *Gateway) handleKnowledgeJob(c *okapi.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.AbortBadRequest("job id is required")
	}

	job, err := g.knowledge.GetIndexingJob(c.Context(), id)
	if err != nil {
		var apiErr *gradient.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "indexing job not found"})
		}
		return c.AbortInternalServerError("indexing job lookup failed")
	}

	return c.OK(toIndexingJobResponse(job))
}

// --- Health ---

// HealthResponse is the JSON response for the health probes.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped client ID
// on the request context. No configured keys means an open API.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("clientID", "anonymous")
			return next(c)
		}
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		clientID := ""
		for key, id := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				clientID = id
			}
		}
		if clientID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("clientID", clientID)
		return next(c)
	}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
