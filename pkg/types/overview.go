package types

import "time"

// LearningStatus tracks the state of the background learning pipeline for a
// user's overview document.
type LearningStatus string

const (
	LearningIdle       LearningStatus = "idle"
	LearningInProgress LearningStatus = "in_progress"
	LearningCompleted  LearningStatus = "completed"
	LearningFailed     LearningStatus = "failed"
)

// OverviewSection names a mutable section of the overview body.
type OverviewSection string

const (
	SectionIdentity            OverviewSection = "identity"
	SectionGoals               OverviewSection = "goals"
	SectionWorkingStyle        OverviewSection = "working_style"
	SectionImportantContext    OverviewSection = "important_context"
	SectionRelationshipHistory OverviewSection = "relationship_history"
)

// IsValidOverviewSection reports whether s names a mutable section.
func IsValidOverviewSection(s string) bool {
	switch OverviewSection(s) {
	case SectionIdentity, SectionGoals, SectionWorkingStyle,
		SectionImportantContext, SectionRelationshipHistory:
		return true
	}
	return false
}

// AgentInsightBlock is one agent's private notes about a user. Blocks are
// keyed by agent ID in the overview body; an agent only ever reads its own
// block in full, other agents see a redacted summary.
type AgentInsightBlock struct {
	// AgentName is the display name of the owning agent.
	AgentName string `json:"agent_name"`

	// RelationshipContext is a high-level description of the agent/user
	// relationship. It is the only free-text field exposed to other agents.
	RelationshipContext string `json:"relationship_context,omitempty"`

	// Insights are the agent's private key/value observations.
	Insights map[string]string `json:"insights,omitempty"`

	// UpdatedAt is when this block was last merged into.
	UpdatedAt time.Time `json:"updated_at"`
}

// OverviewBody is the strongly typed content of an overview document.
// Sections have explicit types so mutations are per-field-type operations
// rather than untyped JSON path edits.
type OverviewBody struct {
	Identity            map[string]string            `json:"identity,omitempty"`
	Goals               map[string]string            `json:"goals,omitempty"`
	WorkingStyle        map[string]string            `json:"working_style,omitempty"`
	ImportantContext    []string                     `json:"important_context,omitempty"`
	RelationshipHistory map[string]string            `json:"relationship_history,omitempty"`
	AgentInsights       map[string]AgentInsightBlock `json:"agent_insights,omitempty"`
}

// Clone returns a deep copy of the body. Mutations operate on a clone so a
// rejected write never leaks partial changes into a shared document value.
func (b OverviewBody) Clone() OverviewBody {
	out := OverviewBody{
		Identity:            cloneStringMap(b.Identity),
		Goals:               cloneStringMap(b.Goals),
		WorkingStyle:        cloneStringMap(b.WorkingStyle),
		RelationshipHistory: cloneStringMap(b.RelationshipHistory),
	}
	if b.ImportantContext != nil {
		out.ImportantContext = append([]string(nil), b.ImportantContext...)
	}
	if b.AgentInsights != nil {
		out.AgentInsights = make(map[string]AgentInsightBlock, len(b.AgentInsights))
		for k, v := range b.AgentInsights {
			block := v
			block.Insights = cloneStringMap(v.Insights)
			out.AgentInsights[k] = block
		}
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// OverviewDocument is the single mutable, versioned knowledge document kept
// per (user, tenant) pair. Version increments by exactly one per successful
// write; every write snapshots the prior state into an append-only history.
type OverviewDocument struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`

	// Version is a monotonic integer, >= 1 for any stored document.
	Version int `json:"version"`

	Body OverviewBody `json:"body"`

	LearningStatus LearningStatus `json:"learning_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedactedAgentSummary is what one agent sees of another agent's insight
// block: name, high-level relationship context and recency, nothing else.
type RedactedAgentSummary struct {
	AgentID             string    `json:"agent_id"`
	AgentName           string    `json:"agent_name"`
	RelationshipContext string    `json:"relationship_context,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ScopedOverview is an agent-scoped read of an overview document. Shared
// sections come through intact; only the viewer's own insight block is
// present, all other agents are reduced to redacted summaries.
type ScopedOverview struct {
	OverviewID     string                `json:"overview_id"`
	UserID         string                `json:"user_id"`
	TenantID       string                `json:"tenant_id"`
	Version        int                   `json:"version"`
	Shared         OverviewBody          `json:"shared"`
	ViewerInsights *AgentInsightBlock    `json:"viewer_insights,omitempty"`
	OtherAgents    []RedactedAgentSummary `json:"other_agents,omitempty"`
	LearningStatus LearningStatus        `json:"learning_status"`
	UpdatedAt      time.Time             `json:"updated_at"`
}
