// Package overview implements the versioned per-user knowledge document:
// typed section mutations with optimistic concurrency, agent-scoped reads
// with insight redaction, and the unconditional insight merge used by the
// learning pipeline.
package overview

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/pkg/types"
)

// MutateAction is the operation applied to a section.
type MutateAction string

const (
	ActionSet    MutateAction = "set"
	ActionAppend MutateAction = "append"
	ActionRemove MutateAction = "remove"
)

// MutateRequest describes one typed mutation of an overview section.
//
// Map sections (identity, goals, working_style, relationship_history)
// accept set (insert or overwrite Key) and remove (delete Key). The list
// section important_context accepts append (add Value) and remove (drop the
// first entry equal to Value). Any other combination is ErrInvalidInput.
type MutateRequest struct {
	UserID   string
	TenantID string
	Section  types.OverviewSection
	Action   MutateAction
	Key      string
	Value    string

	// Actor and Reason are recorded on the history row.
	Actor  string
	Reason string

	// ExpectedVersion, when set, rejects the write with ErrVersionConflict
	// unless it matches the stored version exactly.
	ExpectedVersion *int
}

// MergeResult reports whether MergeAgentInsights created the document.
type MergeResult struct {
	OverviewID string
	Version    int
	Created    bool
}

// Service wraps a storage.OverviewStore with the typed mutation and
// redaction rules.
type Service struct {
	store storage.OverviewStore
}

// NewService creates an overview service over the given store.
func NewService(store storage.OverviewStore) *Service {
	return &Service{store: store}
}

// Get fetches the full overview document for (user, tenant).
func (s *Service) Get(ctx context.Context, userID, tenantID string) (*types.OverviewDocument, error) {
	return s.store.GetOverview(ctx, userID, tenantID)
}

// GetScoped returns the agent-scoped view of an overview: shared sections
// intact, the viewer's own insight block in full, every other agent reduced
// to a redacted summary.
func (s *Service) GetScoped(ctx context.Context, userID, tenantID, viewerAgentID string) (*types.ScopedOverview, error) {
	if viewerAgentID == "" {
		return nil, fmt.Errorf("%w: viewer agent ID is required", storage.ErrInvalidInput)
	}

	doc, err := s.store.GetOverview(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	shared := doc.Body.Clone()
	shared.AgentInsights = nil

	scoped := &types.ScopedOverview{
		OverviewID:     doc.ID,
		UserID:         doc.UserID,
		TenantID:       doc.TenantID,
		Version:        doc.Version,
		Shared:         shared,
		LearningStatus: doc.LearningStatus,
		UpdatedAt:      doc.UpdatedAt,
	}

	for agentID, block := range doc.Body.AgentInsights {
		if agentID == viewerAgentID {
			own := block
			own.Insights = cloneInsights(block.Insights)
			scoped.ViewerInsights = &own
			continue
		}
		scoped.OtherAgents = append(scoped.OtherAgents, types.RedactedAgentSummary{
			AgentID:             agentID,
			AgentName:           block.AgentName,
			RelationshipContext: block.RelationshipContext,
			UpdatedAt:           block.UpdatedAt,
		})
	}
	sort.Slice(scoped.OtherAgents, func(i, j int) bool {
		return scoped.OtherAgents[i].AgentID < scoped.OtherAgents[j].AgentID
	})
	return scoped, nil
}

// Mutate applies one typed section change. The write snapshots the prior
// state to history and bumps the version by exactly one; a stale
// ExpectedVersion is rejected with no side effects.
func (s *Service) Mutate(ctx context.Context, req MutateRequest) (*types.OverviewDocument, error) {
	if !types.IsValidOverviewSection(string(req.Section)) {
		return nil, fmt.Errorf("%w: unknown section %q", storage.ErrInvalidInput, req.Section)
	}
	if err := validateAction(req); err != nil {
		return nil, err
	}

	return s.store.Mutate(ctx, req.UserID, req.TenantID, req.ExpectedVersion, true, req.Actor, req.Reason,
		func(doc *types.OverviewDocument) error {
			return applyMutation(&doc.Body, req)
		})
}

// MergeAgentInsights shallow-merges insights into the calling agent's own
// block, creating the document on first use. The merge is last-writer-wins
// and never checks a version, but it still snapshots history and bumps the
// version like any other write.
func (s *Service) MergeAgentInsights(ctx context.Context, userID, tenantID, agentID, agentName string, insights map[string]string, reason string) (*MergeResult, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	if len(insights) == 0 {
		return nil, fmt.Errorf("%w: at least one insight is required", storage.ErrInvalidInput)
	}

	created := false
	doc, err := s.store.Mutate(ctx, userID, tenantID, nil, true, agentID, reason,
		func(doc *types.OverviewDocument) error {
			created = doc.Version == 0

			if doc.Body.AgentInsights == nil {
				doc.Body.AgentInsights = make(map[string]types.AgentInsightBlock)
			}
			block := doc.Body.AgentInsights[agentID]
			block.AgentName = agentName
			if block.Insights == nil {
				block.Insights = make(map[string]string, len(insights))
			}
			for k, v := range insights {
				block.Insights[k] = v
			}
			block.UpdatedAt = time.Now().UTC()
			doc.Body.AgentInsights[agentID] = block
			return nil
		})
	if err != nil {
		return nil, err
	}
	return &MergeResult{OverviewID: doc.ID, Version: doc.Version, Created: created}, nil
}

// SetLearningStatus records the learning pipeline state on the document.
func (s *Service) SetLearningStatus(ctx context.Context, userID, tenantID string, status types.LearningStatus, actor string) (*types.OverviewDocument, error) {
	return s.store.Mutate(ctx, userID, tenantID, nil, true, actor, "learning status "+string(status),
		func(doc *types.OverviewDocument) error {
			doc.LearningStatus = status
			return nil
		})
}

// GetSnapshot fetches a historical version of a document.
func (s *Service) GetSnapshot(ctx context.Context, overviewID string, version int) (*types.OverviewDocument, error) {
	return s.store.GetSnapshot(ctx, overviewID, version)
}

func validateAction(req MutateRequest) error {
	if req.Section == types.SectionImportantContext {
		switch req.Action {
		case ActionAppend, ActionRemove:
			if req.Value == "" {
				return fmt.Errorf("%w: value is required for %s on %s", storage.ErrInvalidInput, req.Action, req.Section)
			}
			return nil
		default:
			return fmt.Errorf("%w: action %q not valid for list section %s", storage.ErrInvalidInput, req.Action, req.Section)
		}
	}

	switch req.Action {
	case ActionSet:
		if req.Key == "" {
			return fmt.Errorf("%w: key is required for set", storage.ErrInvalidInput)
		}
		return nil
	case ActionRemove:
		if req.Key == "" {
			return fmt.Errorf("%w: key is required for remove", storage.ErrInvalidInput)
		}
		return nil
	default:
		return fmt.Errorf("%w: action %q not valid for map section %s", storage.ErrInvalidInput, req.Action, req.Section)
	}
}

func applyMutation(body *types.OverviewBody, req MutateRequest) error {
	if req.Section == types.SectionImportantContext {
		switch req.Action {
		case ActionAppend:
			body.ImportantContext = append(body.ImportantContext, req.Value)
		case ActionRemove:
			for i, v := range body.ImportantContext {
				if v == req.Value {
					body.ImportantContext = append(body.ImportantContext[:i], body.ImportantContext[i+1:]...)
					break
				}
			}
		}
		return nil
	}

	target := mapSection(body, req.Section)
	switch req.Action {
	case ActionSet:
		if *target == nil {
			*target = make(map[string]string)
		}
		(*target)[req.Key] = req.Value
	case ActionRemove:
		delete(*target, req.Key)
	}
	return nil
}

func mapSection(body *types.OverviewBody, section types.OverviewSection) *map[string]string {
	switch section {
	case types.SectionIdentity:
		return &body.Identity
	case types.SectionGoals:
		return &body.Goals
	case types.SectionWorkingStyle:
		return &body.WorkingStyle
	default:
		return &body.RelationshipHistory
	}
}

func cloneInsights(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
