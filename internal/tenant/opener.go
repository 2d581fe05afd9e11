package tenant

import (
	"strings"

	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/internal/storage/postgres"
	"github.com/arclight-ai/arclight/internal/storage/sqlite"
	"github.com/arclight-ai/arclight/pkg/types"
)

// DefaultOpener dispatches on the DSN format: postgres URLs and key=value
// DSNs open a postgres store, everything else is treated as a SQLite path.
func DefaultOpener(dsn string, tier types.Tier) (storage.TenantStores, error) {
	if strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return postgres.New(dsn, tier)
	}
	return sqlite.New(dsn, tier)
}
