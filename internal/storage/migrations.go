package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migrations in order
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create entities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS entities (
					org_id     TEXT NOT NULL,
					kind       TEXT NOT NULL,
					id         TEXT NOT NULL,
					data       TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					PRIMARY KEY (org_id, kind, id)
				);
			`,
		},
		{
			Version:     "002",
			Description: "Index entities by organization and kind",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_entities_org_kind
					ON entities (org_id, kind, created_at);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migrations in order
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create entities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS entities (
					org_id     TEXT NOT NULL,
					kind       TEXT NOT NULL,
					id         TEXT NOT NULL,
					data       JSONB NOT NULL,
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL,
					PRIMARY KEY (org_id, kind, id)
				);
			`,
		},
		{
			Version:     "002",
			Description: "Index entities by organization and kind",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_entities_org_kind
					ON entities (org_id, kind, created_at);
			`,
		},
	}
}
