package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
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
func (s *SQLiteStorage) Put(ctx context.Context, orgID, kind, id string, data []byte) error {
	query := `
		INSERT INTO entities (org_id, kind, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, kind, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query, orgID, kind, id, string(data), now, now)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save entity", err.Error())
	}
	return nil
}

// Get fetches one entity document
func (s *SQLiteStorage) Get(ctx context.Context, orgID, kind, id string) ([]byte, error) {
	query := `SELECT data FROM entities WHERE org_id = ? AND kind = ? AND id = ?`

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
func (s *SQLiteStorage) List(ctx context.Context, orgID, kind string) ([][]byte, error) {
	query := `SELECT data FROM entities WHERE org_id = ? AND kind = ? ORDER BY created_at`

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
func (s *SQLiteStorage) Delete(ctx context.Context, orgID, kind, id string) error {
	query := `DELETE FROM entities WHERE org_id = ? AND kind = ? AND id = ?`

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
func (s *SQLiteStorage) GetStats(ctx context.Context) (*StorageStats, error) {
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
func (s *SQLiteStorage) GetHealth() *StorageHealth {
	if err := s.Ping(); err != nil {
		return &StorageHealth{Healthy: false, Error: err.Error()}
	}
	return &StorageHealth{Healthy: true}
}

// Cleanup removes entities of a kind older than the given time
func (s *SQLiteStorage) Cleanup(ctx context.Context, kind string, olderThan time.Time) (int, error) {
	query := `DELETE FROM entities WHERE kind = ? AND created_at < ?`

	result, err := s.db.ExecContext(ctx, query, kind, olderThan)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to clean up entities", err.Error())
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}
