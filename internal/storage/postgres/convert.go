package postgres

import (
	"encoding/json"

	"github.com/jkaninda/msaidizi/internal/provision"
)

// --- Knowledge base ---

func toKnowledgeBaseDomain(m *KnowledgeBaseModel) *provision.KnowledgeBase {
	return &provision.KnowledgeBase{
		Key:        m.Key,
		ProviderID: m.ProviderID,
		WebsiteURL: m.WebsiteURL,
		DatabaseID: m.DatabaseID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func toKnowledgeBaseModel(kb *provision.KnowledgeBase) KnowledgeBaseModel {
	return KnowledgeBaseModel{
		Key:        kb.Key,
		ProviderID: kb.ProviderID,
		WebsiteURL: kb.WebsiteURL,
		DatabaseID: kb.DatabaseID,
		CreatedAt:  kb.CreatedAt,
		UpdatedAt:  kb.UpdatedAt,
	}
}

// --- Agent ---

func toAgentDomain(m *AgentModel) *provision.Agent {
	var kbIDs, attachedIDs []string
	_ = json.Unmarshal(m.KnowledgeBaseIDs, &kbIDs)
	_ = json.Unmarshal(m.AttachedKnowledgeBaseIDs, &attachedIDs)

	return &provision.Agent{
		Key:                      m.Key,
		ProviderID:               m.ProviderID,
		WebsiteURL:               m.WebsiteURL,
		DeploymentURL:            m.DeploymentURL,
		AccessKey:                m.AccessKey,
		KnowledgeBaseIDs:         kbIDs,
		AttachedKnowledgeBaseIDs: attachedIDs,
		DeploymentStatus:         provision.DeploymentStatus(m.DeploymentStatus),
		CreatedAt:                m.CreatedAt,
		UpdatedAt:                m.UpdatedAt,
	}
}

func toAgentModel(a *provision.Agent) AgentModel {
	return AgentModel{
		Key:                      a.Key,
		ProviderID:               a.ProviderID,
		WebsiteURL:               a.WebsiteURL,
		DeploymentURL:            a.DeploymentURL,
		AccessKey:                a.AccessKey,
		KnowledgeBaseIDs:         marshalIDs(a.KnowledgeBaseIDs),
		AttachedKnowledgeBaseIDs: marshalIDs(a.AttachedKnowledgeBaseIDs),
		DeploymentStatus:         string(a.DeploymentStatus),
		CreatedAt:                a.CreatedAt,
		UpdatedAt:                a.UpdatedAt,
	}
}

func marshalIDs(ids []string) JSONB {
	if len(ids) == 0 {
		return JSONB("[]")
	}
	buf, _ := json.Marshal(ids)
	return JSONB(buf)
}

// --- Session ---

func toSessionDomain(m *SessionModel) *provision.Session {
	return &provision.Session{
		ID:             m.ID,
		TenantID:       m.TenantID,
		WebsiteURL:     m.WebsiteURL,
		CreatedAt:      m.CreatedAt,
		LastActivityAt: m.LastActivityAt,
	}
}

func toSessionModel(s *provision.Session) SessionModel {
	return SessionModel{
		ID:             s.ID,
		TenantID:       s.TenantID,
		WebsiteURL:     s.WebsiteURL,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
}
