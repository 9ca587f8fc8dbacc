package provision

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by store lookups when no record exists for a
// key. Storage backends translate their driver-specific not-found
// errors to this sentinel.
var ErrNotFound = errors.New("record not found")

// ProvisioningError wraps a creation-stage failure. The core does not
// retry these; transport-level retries live in the provider client.
type ProvisioningError struct {
	Stage string // "knowledge_base_create", "agent_create", ...
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed at %s: %v", e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// DeploymentTimeoutError means the polling ceiling elapsed while the
// deployment was still non-terminal. The record is persisted in its
// last-known state, so a later request can resume reconciliation.
type DeploymentTimeoutError struct {
	AgentID string
	Waited  time.Duration
}

func (e *DeploymentTimeoutError) Error() string {
	return fmt.Sprintf("agent %s deployment did not complete within %s", e.AgentID, e.Waited)
}

// DeploymentFailedError means the provider reported a terminal failure
// status. Not recoverable without operator intervention.
type DeploymentFailedError struct {
	AgentID string
	Status  DeploymentStatus
}

func (e *DeploymentFailedError) Error() string {
	return fmt.Sprintf("agent %s deployment failed with status %s", e.AgentID, e.Status)
}

// LinkingError reports a partial success: the agent is reachable but
// credential minting or knowledge base attachment did not fully
// complete. The agent remains usable; a later reconciliation attempt
// repairs the missing links.
type LinkingError struct {
	AgentID string
	Err     error
}

func (e *LinkingError) Error() string {
	return fmt.Sprintf("deferred linking incomplete for agent %s: %v", e.AgentID, e.Err)
}

func (e *LinkingError) Unwrap() error { return e.Err }
