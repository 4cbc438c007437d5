// Package store is the Hub's durable relational store: a pure-Go SQLite
// database accessed through GORM, with migrations and repository methods
// for every entity in internal/model. Bastion never links cgo, so the
// driver is glebarez/sqlite rather than mattn/go-sqlite3.
package store

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cuemby/bastion/internal/model"
	"github.com/cuemby/bastion/pkg/log"
)

// Store owns the database handle and is safe for concurrent use; GORM
// serializes access through the underlying *sql.DB connection pool.
type Store struct {
	db *gorm.DB
}

// Open creates (or reuses) the sqlite database file under dataDir and runs
// migrations. WAL mode is enabled so readers (API list endpoints) do not
// block the scheduler's writes.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "bastion.db")
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: simpleGormLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying *gorm.DB for repositories in other packages
// that need query flexibility beyond what Store's own methods offer.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&model.Job{},
		&model.Run{},
		&model.RunEvent{},
		&model.Snapshot{},
		&model.AgentTask{},
		&model.ArtifactDeleteTask{},
		&model.ArtifactDeleteEvent{},
		&model.IncompleteCleanupTask{},
		&model.Session{},
		&model.LoginThrottle{},
		&model.EnrollToken{},
		&model.Secret{},
		&model.ConfigSnapshot{},
		&model.SecretsSnapshot{},
		&model.Operation{},
		&model.OperationEvent{},
		&model.Agent{},
		&model.Notification{},
	)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// simpleGormLogger routes GORM's internal logging through the zerolog
// component logger instead of GORM's default stdlib-log writer, mirroring
// how the teacher attaches a component logger to every subsystem.
type simpleGormLogger struct{}

var _ gormlogger.Interface = simpleGormLogger{}

func (simpleGormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return simpleGormLogger{} }

func (simpleGormLogger) Info(_ interface{}, msg string, args ...interface{}) {
	log.WithComponent("store").Info().Msgf(msg, args...)
}

func (simpleGormLogger) Warn(_ interface{}, msg string, args ...interface{}) {
	log.WithComponent("store").Warn().Msgf(msg, args...)
}

func (simpleGormLogger) Error(_ interface{}, msg string, args ...interface{}) {
	log.WithComponent("store").Error().Msgf(msg, args...)
}

func (simpleGormLogger) Trace(_ interface{}, begin time.Time, fc func() (string, int64), err error) {
	sql, rows := fc()
	evt := log.WithComponent("store").Debug()
	if err != nil {
		evt = log.WithComponent("store").Warn().Err(err)
	}
	evt.Dur("elapsed", time.Since(begin)).Int64("rows", rows).Str("sql", sql).Msg("query")
}
