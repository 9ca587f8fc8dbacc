// Package gradient implements the provisioning provider interface
// against the DigitalOcean Gradient AI platform API.
package gradient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jkaninda/msaidizi/internal/provision"
)

const (
	defaultBaseURL = "https://api.digitalocean.com/v2/gen-ai"
	defaultRegion  = "tor1"

	// Llama 3.3 70B Instruct, the platform's general-purpose default.
	defaultModelUUID = "d754f2d7-d1f0-11ef-bf8f-4e013e2ddde4"

	maxResourceNameLen = 63
)

// Client talks to the Gradient AI platform. It implements
// provision.Provider plus the knowledge-ingestion operations
// (data sources, file uploads, indexing jobs) the serving layer uses.
type Client struct {
	token              string
	baseURL            string
	region             string
	modelUUID          string
	projectID          string
	embeddingModelUUID string
	httpClient         *http.Client
	logger             *slog.Logger
	maxTries           uint
}

// Option configures the Gradient client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRegion sets the datacenter region for created resources.
func WithRegion(region string) Option {
	return func(c *Client) {
		if region != "" {
			c.region = region
		}
	}
}

// WithModelUUID sets the inference model for created agents.
func WithModelUUID(uuid string) Option {
	return func(c *Client) {
		if uuid != "" {
			c.modelUUID = uuid
		}
	}
}

// WithProjectID scopes created resources to a DigitalOcean project.
func WithProjectID(id string) Option {
	return func(c *Client) { c.projectID = id }
}

// WithEmbeddingModelUUID sets the embedding model for knowledge bases.
func WithEmbeddingModelUUID(uuid string) Option {
	return func(c *Client) { c.embeddingModelUUID = uuid }
}

// WithMaxTries bounds transport retries for read calls.
func WithMaxTries(n uint) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTries = n
		}
	}
}

// NewClient creates a Gradient AI client authenticated with a
// DigitalOcean API token.
func NewClient(token string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    defaultBaseURL,
		region:     defaultRegion,
		modelUUID:  defaultModelUUID,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		maxTries:   3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx platform response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gradient API error (status %d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether a retry could plausibly succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// CreateKnowledgeBase provisions a knowledge base seeded with a
// scoped web crawler over the website. When req.DatabaseID is set the
// knowledge base reuses that managed database instead of provisioning
// a fresh one, which is both faster and cheaper.
func (c *Client) CreateKnowledgeBase(ctx context.Context, req *provision.CreateKnowledgeBaseRequest) (*provision.ProviderKnowledgeBase, error) {
	payload := createKnowledgeBasePayload{
		Name:               sanitizeName(req.Name),
		ProjectID:          c.projectID,
		DatabaseID:         req.DatabaseID,
		EmbeddingModelUUID: c.embeddingModelUUID,
		Region:             c.region,
		Tags:               req.Tags,
	}
	if req.SeedURL != "" {
		payload.DataSources = []dataSourcePayload{{
			WebCrawler: &webCrawlerDataSource{
				BaseURL:        req.SeedURL,
				CrawlingOption: "SCOPED",
				EmbedMedia:     true,
			},
		}}
	}

	var env knowledgeBaseEnvelope
	if err := c.do(ctx, http.MethodPost, "/knowledge_bases", payload, &env); err != nil {
		return nil, fmt.Errorf("creating knowledge base: %w", err)
	}

	c.logger.InfoContext(ctx, "knowledge base provisioned",
		slog.String("kb_id", env.KnowledgeBase.UUID),
		slog.String("database_id", env.KnowledgeBase.DatabaseID),
		slog.String("region", env.KnowledgeBase.Region),
	)
	return &provision.ProviderKnowledgeBase{
		ID:         env.KnowledgeBase.UUID,
		DatabaseID: env.KnowledgeBase.DatabaseID,
	}, nil
}

// CreateAgent provisions an agent. Knowledge bases are attached later
// via AttachKnowledgeBase; the platform rejects attachment until the
// deployment exists.
func (c *Client) CreateAgent(ctx context.Context, req *provision.CreateAgentRequest) (*provision.ProviderAgent, error) {
	payload := createAgentPayload{
		Name:        sanitizeName(req.Name),
		Instruction: req.Instruction,
		Description: req.Description,
		ModelUUID:   c.modelUUID,
		ProjectID:   c.projectID,
		Region:      c.region,
		Tags:        req.Tags,
	}

	var env agentEnvelope
	if err := c.do(ctx, http.MethodPost, "/agents", payload, &env); err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}

	pa := env.toProviderAgent()
	c.logger.InfoContext(ctx, "agent provisioned",
		slog.String("agent_id", pa.ID),
		slog.String("status", string(pa.Status)),
	)
	return pa, nil
}

// GetAgent returns the agent's current deployment state. Reads are
// idempotent, so transient failures are retried with exponential
// backoff before giving up.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*provision.ProviderAgent, error) {
	env, err := backoff.Retry(ctx, func() (*agentEnvelope, error) {
		var env agentEnvelope
		if err := c.do(ctx, http.MethodGet, "/agents/"+agentID, nil, &env); err != nil {
			if apiErr, ok := asAPIError(err); ok && !apiErr.Temporary() {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return &env, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		return nil, fmt.Errorf("fetching agent %s: %w", agentID, err)
	}
	return env.toProviderAgent(), nil
}

// CreateAgentAccessKey mints a fresh endpoint credential. The secret
// is only ever returned from this call; the creation response's
// embedded keys are not trusted.
func (c *Client) CreateAgentAccessKey(ctx context.Context, agentID, keyName string) (string, error) {
	payload := createAPIKeyPayload{AgentUUID: agentID, Name: sanitizeName(keyName)}

	var env apiKeyEnvelope
	if err := c.do(ctx, http.MethodPost, "/agents/"+agentID+"/api_keys", payload, &env); err != nil {
		return "", fmt.Errorf("creating access key for agent %s: %w", agentID, err)
	}
	if env.APIKeyInfo.SecretKey == "" {
		return "", fmt.Errorf("access key response for agent %s carried no secret", agentID)
	}
	return env.APIKeyInfo.SecretKey, nil
}

// AttachKnowledgeBase links a knowledge base to a deployed agent.
func (c *Client) AttachKnowledgeBase(ctx context.Context, agentID, kbID string) error {
	if err := c.do(ctx, http.MethodPost, "/agents/"+agentID+"/knowledge_bases/"+kbID, nil, nil); err != nil {
		return fmt.Errorf("attaching knowledge base %s to agent %s: %w", kbID, agentID, err)
	}
	c.logger.InfoContext(ctx, "knowledge base attached",
		slog.String("agent_id", agentID),
		slog.String("kb_id", kbID),
	)
	return nil
}

// AddWebCrawlerDataSource adds another crawled website to an existing
// knowledge base and returns the data source id.
func (c *Client) AddWebCrawlerDataSource(ctx context.Context, kbID, baseURL string) (string, error) {
	payload := addDataSourcePayload{
		KnowledgeBaseUUID: kbID,
		WebCrawler: &webCrawlerDataSource{
			BaseURL:        baseURL,
			CrawlingOption: "SCOPED",
			EmbedMedia:     true,
		},
	}
	var env dataSourceEnvelope
	if err := c.do(ctx, http.MethodPost, "/knowledge_bases/"+kbID+"/data_sources", payload, &env); err != nil {
		return "", fmt.Errorf("adding crawler data source to %s: %w", kbID, err)
	}
	return env.KnowledgeBaseDataSource.UUID, nil
}

// AddFileDataSource registers an already-uploaded file (see
// CreatePresignedFileUploads) as a knowledge base data source.
func (c *Client) AddFileDataSource(ctx context.Context, kbID, fileName, objectKey, size string) (string, error) {
	payload := addDataSourcePayload{
		KnowledgeBaseUUID: kbID,
		FileUpload: &fileUploadDataSource{
			OriginalFileName: fileName,
			StoredObjectKey:  objectKey,
			Size:             size,
		},
	}
	var env dataSourceEnvelope
	if err := c.do(ctx, http.MethodPost, "/knowledge_bases/"+kbID+"/data_sources", payload, &env); err != nil {
		return "", fmt.Errorf("adding file data source to %s: %w", kbID, err)
	}
	return env.KnowledgeBaseDataSource.UUID, nil
}

// CreatePresignedFileUploads requests upload slots for document
// files. The caller PUTs each file to its presigned URL and then
// registers the object key with AddFileDataSource.
func (c *Client) CreatePresignedFileUploads(ctx context.Context, files []PresignedFile) ([]PresignedUpload, error) {
	var env presignedUploadEnvelope
	if err := c.do(ctx, http.MethodPost, "/knowledge_bases/data_sources/file_upload_presigned_urls", presignedUploadRequest{Files: files}, &env); err != nil {
		return nil, fmt.Errorf("requesting presigned uploads: %w", err)
	}
	return env.Uploads, nil
}

// StartIndexingJob triggers (re)indexing of a knowledge base's data
// sources and returns the job for polling.
func (c *Client) StartIndexingJob(ctx context.Context, kbID string, dataSourceIDs []string) (*IndexingJob, error) {
	payload := startIndexingJobPayload{KnowledgeBaseUUID: kbID, DataSourceUUIDs: dataSourceIDs}

	var env indexingJobEnvelope
	if err := c.do(ctx, http.MethodPost, "/indexing_jobs", payload, &env); err != nil {
		return nil, fmt.Errorf("starting indexing job for %s: %w", kbID, err)
	}
	return &env.Job, nil
}

// GetIndexingJob returns the current state of an indexing job.
func (c *Client) GetIndexingJob(ctx context.Context, jobID string) (*IndexingJob, error) {
	job, err := backoff.Retry(ctx, func() (*IndexingJob, error) {
		var env indexingJobEnvelope
		if err := c.do(ctx, http.MethodGet, "/indexing_jobs/"+jobID, nil, &env); err != nil {
			if apiErr, ok := asAPIError(err); ok && !apiErr.Temporary() {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return &env.Job, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		return nil, fmt.Errorf("fetching indexing job %s: %w", jobID, err)
	}
	return job, nil
}

// VerifyCredentials probes the platform with a cheap authenticated
// read. Used as a readiness check so a revoked or mistyped API token
// surfaces on /readyz instead of as provisioning failures.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/models?page=1&per_page=1", nil, nil); err != nil {
		return fmt.Errorf("verifying provider credentials: %w", err)
	}
	return nil
}

// do executes one API call: marshal payload (if any), send with
// bearer auth, decode the response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// sanitizeName converts a free-form label into the platform's
// resource-name charset: lowercase alphanumerics, dot, underscore and
// hyphen, at most 63 characters, trimmed of edge punctuation.
func sanitizeName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(lower))
	prevDash := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			prevDash = false
		case r == '-':
			if !prevDash {
				b.WriteByte('-')
			}
			prevDash = true
		default:
			if !prevDash {
				b.WriteByte('-')
			}
			prevDash = true
		}
	}
	s := strings.Trim(b.String(), "-._")
	if len(s) > maxResourceNameLen {
		s = strings.Trim(s[:maxResourceNameLen], "-._")
	}
	if s == "" {
		s = "resource"
	}
	return s
}
