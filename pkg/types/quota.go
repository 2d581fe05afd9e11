package types

import "time"

// UsageCounter is one period-scoped usage counter for a
// (tenant, owner, resource, period) tuple. Used only increases within a
// period; the limit is a snapshot of the tenant's tier-derived limit taken
// when the counter row is lazily created, so later limit changes never
// retroactively alter past periods.
type UsageCounter struct {
	TenantID string `json:"tenant_id"`

	// OwnerID is the resource owner: an agent ID for agent-scoped resources,
	// or the tenant ID itself for tenant-wide resources.
	OwnerID string `json:"owner_id"`

	Resource Resource `json:"resource"`

	// PeriodStart identifies the billing period (normalized to the first
	// instant of the period, UTC).
	PeriodStart time.Time `json:"period_start"`

	// Used is the amount consumed so far this period.
	Used int64 `json:"used"`

	// Limit is the period allowance snapshot. Zero means unlimited.
	Limit int64 `json:"limit"`
}

// Usage is the read-side view of a counter returned by quota checks.
type Usage struct {
	Used      int64   `json:"used"`
	Limit     int64   `json:"limit"`
	Remaining int64   `json:"remaining"`
	Percent   float64 `json:"percent_used"`

	// Unlimited is true when the counter's limit is the zero sentinel.
	// Unlimited usage is never reported as exceeded.
	Unlimited bool `json:"unlimited"`
}

// Exceeded reports whether usage has reached or passed the limit.
// Enforcement (denying further use) is the caller's decision; increments
// themselves always succeed so that usage is recorded even past the limit.
func (u Usage) Exceeded() bool {
	return !u.Unlimited && u.Used >= u.Limit
}
