// Package types defines the core domain types shared across the Arclight
// system: tenants, jobs, usage counters, overview documents and retrieval
// results. These types are storage-agnostic; persistence lives in
// internal/storage.
package types

// Tier is a tenant's service class. It determines both physical data
// placement and the similarity search strategy used for that tenant.
type Tier string

const (
	// TierShared places the tenant's data in the shared multi-tenant pool.
	// Similarity search for shared tenants is an exact, tenant-filtered scan.
	TierShared Tier = "shared"

	// TierDedicatedStandard gives the tenant its own datastore with an
	// approximate proximity index.
	TierDedicatedStandard Tier = "dedicated-standard"

	// TierDedicatedPremium is a dedicated store with premium resource limits.
	TierDedicatedPremium Tier = "dedicated-premium"
)

// IsDedicated reports whether the tier maps to a per-tenant datastore.
func (t Tier) IsDedicated() bool {
	return t == TierDedicatedStandard || t == TierDedicatedPremium
}

// IsValidTier reports whether s names a known tenant tier.
func IsValidTier(s string) bool {
	switch Tier(s) {
	case TierShared, TierDedicatedStandard, TierDedicatedPremium:
		return true
	}
	return false
}

// Resource is a metered usage resource.
type Resource string

const (
	ResourceVoiceSeconds    Resource = "voice_seconds"
	ResourceTextMessages    Resource = "text_messages"
	ResourceEmbeddingChunks Resource = "embedding_chunks"
)

// IsValidResource reports whether s names a known metered resource.
func IsValidResource(s string) bool {
	switch Resource(s) {
	case ResourceVoiceSeconds, ResourceTextMessages, ResourceEmbeddingChunks:
		return true
	}
	return false
}
