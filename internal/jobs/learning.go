package jobs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arclight-ai/arclight/internal/overview"
	"github.com/arclight-ai/arclight/internal/tenant"
	"github.com/arclight-ai/arclight/pkg/types"
)

// learnerAgentID owns the insight block the learning pipeline writes into
// when a job carries no agent attribution.
const learnerAgentID = "arclight-learner"

// LearningHandler runs the per-user behavioral learning family: it reads
// the user's recent conversation turns across agents, derives insights and
// merges them into the overview's agent block. The job's SubjectID is the
// user ID.
type LearningHandler struct {
	router     *tenant.Router
	turnWindow int
}

// NewLearningHandler creates a learning handler reading the latest
// turnWindow conversation turns per run.
func NewLearningHandler(router *tenant.Router, turnWindow int) *LearningHandler {
	if turnWindow <= 0 {
		turnWindow = 50
	}
	return &LearningHandler{router: router, turnWindow: turnWindow}
}

// Family returns the learning job family.
func (h *LearningHandler) Family() types.JobFamily {
	return types.JobFamilyLearning
}

// Handle runs one learning job.
func (h *LearningHandler) Handle(ctx context.Context, job *types.Job, report ProgressFunc) (string, error) {
	cap, err := h.router.Resolve(ctx, job.TenantID)
	if err != nil {
		return "", err
	}
	stores, err := h.router.OpenStores(cap)
	if err != nil {
		return "", err
	}

	overviews := overview.NewService(stores.Overviews())
	userID := job.SubjectID

	if _, err := overviews.SetLearningStatus(ctx, userID, job.TenantID, types.LearningInProgress, learnerAgentID); err != nil {
		return "", fmt.Errorf("learning: failed to mark in progress: %w", err)
	}
	fail := func(err error) (string, error) {
		if _, serr := overviews.SetLearningStatus(ctx, userID, job.TenantID, types.LearningFailed, learnerAgentID); serr != nil {
			return "", fmt.Errorf("%w (also failed to record status: %v)", err, serr)
		}
		return "", err
	}

	report(10, "loading recent conversations", 0)
	turns, err := stores.Context().RecentTurns(ctx, job.TenantID, userID, h.turnWindow)
	if err != nil {
		return fail(fmt.Errorf("learning: failed to load turns: %w", err))
	}

	if len(turns) == 0 {
		if _, err := overviews.SetLearningStatus(ctx, userID, job.TenantID, types.LearningCompleted, learnerAgentID); err != nil {
			return "", fmt.Errorf("learning: failed to mark completed: %w", err)
		}
		report(100, "no conversations to learn from", 0)
		return "no conversations to learn from", nil
	}

	report(60, fmt.Sprintf("deriving insights from %d turns", len(turns)), len(turns))

	agentID := job.Metadata["agent_id"]
	agentName := job.Metadata["agent_name"]
	if agentID == "" {
		agentID = learnerAgentID
		agentName = "Arclight Learner"
	}

	insights := deriveInsights(turns)
	result, err := overviews.MergeAgentInsights(ctx, userID, job.TenantID, agentID, agentName, insights,
		"behavioral learning over recent conversations")
	if err != nil {
		return fail(fmt.Errorf("learning: failed to merge insights: %w", err))
	}

	if _, err := overviews.SetLearningStatus(ctx, userID, job.TenantID, types.LearningCompleted, learnerAgentID); err != nil {
		return "", fmt.Errorf("learning: failed to mark completed: %w", err)
	}

	report(100, "insights merged", len(turns))
	return fmt.Sprintf("merged %d insights into overview %s v%d from %d turns",
		len(insights), result.OverviewID, result.Version, len(turns)), nil
}

// deriveInsights reduces a turn window to key/value observations. Turns
// arrive newest first.
func deriveInsights(turns []types.ConversationTurn) map[string]string {
	agents := make(map[string]int)
	var latest time.Time
	for _, t := range turns {
		agents[t.AgentID]++
		if t.CreatedAt.After(latest) {
			latest = t.CreatedAt
		}
	}

	names := make([]string, 0, len(agents))
	for a := range agents {
		names = append(names, a)
	}
	sort.Strings(names)

	insights := map[string]string{
		"conversation_count": strconv.Itoa(len(turns)),
		"last_interaction":   latest.UTC().Format(time.RFC3339),
	}
	if len(names) > 0 {
		insights["active_agents"] = strings.Join(names, ", ")
	}
	if topic := turns[0].UserText; topic != "" {
		if len(topic) > 120 {
			topic = topic[:120]
		}
		insights["recent_topic"] = topic
	}
	return insights
}
