package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// PostgresStorage implements Storage interface using PostgreSQL
type PostgresStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(config *StorageConfig) *PostgresStorage {
	return &PostgresStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (s *PostgresStorage) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to connect to PostgreSQL", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *PostgresStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// Put inserts or replaces an entity document
func (s *PostgresStorage) Put(ctx context.Context, orgID, kind, id string, data []byte) error {
	query := `
		INSERT INTO entities (org_id, kind, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (org_id, kind, id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query, orgID, kind, id, string(data), now, now)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save entity", err.Error())
	}
	return nil
}

// Get fetches one entity document
func (s *PostgresStorage) Get(ctx context.Context, orgID, kind, id string) ([]byte, error) {
	query := `SELECT data FROM entities WHERE org_id = $1 AND kind = $2 AND id = $3`

	var data string
	err := s.db.QueryRowContext(ctx, query, orgID, kind, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get entity", err.Error())
	}
	return []byte(data), nil
}

// List fetches all entity documents of a kind for an organization
func (s *PostgresStorage) List(ctx context.Context, orgID, kind string) ([][]byte, error) {
	query := `SELECT data FROM entities WHERE org_id = $1 AND kind = $2 ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, orgID, kind)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list entities", err.Error())
	}
	defer rows.Close()

	var results [][]byte
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan entity", err.Error())
		}
		results = append(results, []byte(data))
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate entities", err.Error())
	}
	return results, nil
}

// Delete removes one entity document
func (s *PostgresStorage) Delete(ctx context.Context, orgID, kind, id string) error {
	query := `DELETE FROM entities WHERE org_id = $1 AND kind = $2 AND id = $3`

	result, err := s.db.ExecContext(ctx, query, orgID, kind, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete entity", err.Error())
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStats returns storage statistics
func (s *PostgresStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{EntitiesByKind: make(map[string]int64)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&stats.TotalEntities); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count entities", err.Error())
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT org_id) FROM entities`).Scan(&stats.Organizations); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count organizations", err.Error())
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM entities GROUP BY kind`)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count entities by kind", err.Error())
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan kind count", err.Error())
		}
		stats.EntitiesByKind[kind] = count
	}

	var oldest, latest sql.NullTime
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(created_at), MAX(created_at) FROM entities`).Scan(&oldest, &latest); err == nil {
		if oldest.Valid {
			stats.OldestEntity = &oldest.Time
		}
		if latest.Valid {
			stats.LatestEntity = &latest.Time
		}
	}

	return stats, nil
}

// GetHealth returns storage health information
func (s *PostgresStorage) GetHealth() *StorageHealth {
	if err := s.Ping(); err != nil {
		return &StorageHealth{Healthy: false, Error: err.Error()}
	}
	return &StorageHealth{Healthy: true}
}

// Cleanup removes entities of a kind older than the given time
func (s *PostgresStorage) Cleanup(ctx context.Context, kind string, olderThan time.Time) (int, error) {
	query := `DELETE FROM entities WHERE kind = $1 AND created_at < $2`

	result, err := s.db.ExecContext(ctx, query, kind, olderThan)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to clean up entities", err.Error())
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}
