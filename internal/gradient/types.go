package gradient

import (
	"strings"

	"github.com/jkaninda/msaidizi/internal/provision"
)

// Wire types for the DigitalOcean Gradient AI API (/v2/gen-ai). Only
// the fields this client reads or writes are declared; the API
// returns many more.

type webCrawlerDataSource struct {
	BaseURL        string `json:"base_url"`
	CrawlingOption string `json:"crawling_option,omitempty"` // SCOPED, PATH, DOMAIN, SUBDOMAINS
	EmbedMedia     bool   `json:"embed_media,omitempty"`
}

type fileUploadDataSource struct {
	OriginalFileName string `json:"original_file_name"`
	StoredObjectKey  string `json:"stored_object_key"`
	Size             string `json:"size_in_bytes,omitempty"`
}

type dataSourcePayload struct {
	WebCrawler *webCrawlerDataSource `json:"web_crawler_data_source,omitempty"`
	FileUpload *fileUploadDataSource `json:"file_upload_data_source,omitempty"`
}

type createKnowledgeBasePayload struct {
	Name               string              `json:"name"`
	ProjectID          string              `json:"project_id,omitempty"`
	DatabaseID         string              `json:"database_id,omitempty"`
	EmbeddingModelUUID string              `json:"embedding_model_uuid,omitempty"`
	Region             string              `json:"region"`
	DataSources        []dataSourcePayload `json:"datasources,omitempty"`
	Tags               []string            `json:"tags,omitempty"`
}

type knowledgeBaseEnvelope struct {
	KnowledgeBase struct {
		UUID       string `json:"uuid"`
		Name       string `json:"name"`
		DatabaseID string `json:"database_id"`
		Region     string `json:"region"`
	} `json:"knowledge_base"`
}

type createAgentPayload struct {
	Name        string   `json:"name"`
	Instruction string   `json:"instruction"`
	Description string   `json:"description,omitempty"`
	ModelUUID   string   `json:"model_uuid"`
	ProjectID   string   `json:"project_id,omitempty"`
	Region      string   `json:"region"`
	Tags        []string `json:"tags,omitempty"`
}

type deployment struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
	URL    string `json:"url"`
}

type agentEnvelope struct {
	Agent struct {
		UUID       string      `json:"uuid"`
		Name       string      `json:"name"`
		Deployment *deployment `json:"deployment"`
	} `json:"agent"`
}

type createAPIKeyPayload struct {
	AgentUUID string `json:"agent_uuid"`
	Name      string `json:"name"`
}

type apiKeyEnvelope struct {
	APIKeyInfo struct {
		UUID      string `json:"uuid"`
		Name      string `json:"name"`
		SecretKey string `json:"secret_key"`
	} `json:"api_key_info"`
}

type addDataSourcePayload struct {
	KnowledgeBaseUUID string                `json:"knowledge_base_uuid"`
	WebCrawler        *webCrawlerDataSource `json:"web_crawler_data_source,omitempty"`
	FileUpload        *fileUploadDataSource `json:"file_upload_data_source,omitempty"`
}

type dataSourceEnvelope struct {
	KnowledgeBaseDataSource struct {
		UUID string `json:"uuid"`
	} `json:"knowledge_base_data_source"`
}

type presignedUploadRequest struct {
	Files []PresignedFile `json:"files"`
}

// PresignedFile describes one file to stage for knowledge base indexing.
type PresignedFile struct {
	FileName string `json:"file_name"`
	FileSize string `json:"file_size"`
}

// PresignedUpload is a provider-issued upload slot: PUT the file bytes
// to URL, then reference ObjectKey in a file-upload data source.
type PresignedUpload struct {
	OriginalFileName string `json:"original_file_name"`
	PresignedURL     string `json:"presigned_url"`
	ObjectKey        string `json:"object_key"`
	ExpiresAt        string `json:"expires_at"`
}

type presignedUploadEnvelope struct {
	Uploads []PresignedUpload `json:"uploads"`
}

type startIndexingJobPayload struct {
	KnowledgeBaseUUID string   `json:"knowledge_base_uuid"`
	DataSourceUUIDs   []string `json:"data_source_uuids,omitempty"`
}

// IndexingJob reports crawl/index progress for a knowledge base.
type IndexingJob struct {
	UUID                 string `json:"uuid"`
	KnowledgeBaseUUID    string `json:"knowledge_base_uuid"`
	Status               string `json:"status"`
	Phase                string `json:"phase"`
	CompletedDataSources int    `json:"completed_datasources"`
	TotalDataSources     int    `json:"total_datasources"`
	Tokens               int    `json:"tokens"`
}

type indexingJobEnvelope struct {
	Job IndexingJob `json:"job"`
}

// parseDeploymentStatus maps the provider's STATUS_* strings onto the
// deployment lifecycle. Unrecognized values map to UNKNOWN, which is
// non-terminal so polling continues.
func parseDeploymentStatus(raw string) provision.DeploymentStatus {
	s := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(raw)), "STATUS_")
	switch s {
	case "WAITING_FOR_DEPLOYMENT":
		return provision.StatusWaitingForDeployment
	case "DEPLOYING":
		return provision.StatusDeploying
	case "RUNNING":
		return provision.StatusRunning
	case "FAILED", "ERROR":
		return provision.StatusFailed
	case "CANCELED", "CANCELLED":
		return provision.StatusCanceled
	case "":
		return provision.StatusCreating
	default:
		return provision.StatusUnknown
	}
}

func (a *agentEnvelope) toProviderAgent() *provision.ProviderAgent {
	pa := &provision.ProviderAgent{ID: a.Agent.UUID, Status: provision.StatusCreating}
	if d := a.Agent.Deployment; d != nil {
		pa.Status = parseDeploymentStatus(d.Status)
		pa.DeploymentURL = d.URL
	}
	return pa
}
