package types

import "time"

// Tenant is an isolated customer account. Every downstream read or write
// carries a tenant ID; queries that omit it are a correctness violation.
type Tenant struct {
	// ID is the tenant identifier.
	ID string `json:"id"`

	// Tier is the tenant's service class.
	Tier Tier `json:"tier"`

	// StorageEndpoint is the logical datastore endpoint (host:port/db) the
	// tenant's data lives on. For shared-pool tenants this is the pool.
	StorageEndpoint string `json:"storage_endpoint"`

	// CredentialRef names the credential bundle in the control plane.
	// Credentials rotate independently of the tenant row.
	CredentialRef string `json:"credential_ref"`

	// CreatedAt is when the tenant was provisioned.
	CreatedAt time.Time `json:"created_at"`
}
