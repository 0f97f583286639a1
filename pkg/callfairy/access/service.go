// Package access owns users' roles, organisations, the permission catalog and
// agent assignments, and answers who may do what.
package access

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxAssignmentAttempts bounds retries of serialization failures.
const maxAssignmentAttempts = 3

// Service is the single entry point for identity, organisation, catalog and
// agent operations. It is safe for concurrent use.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// NewService creates a Service backed by db. A nil logger disables logging.
func NewService(db *gorm.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, log: log.Named("access"), now: time.Now}
}

// DB exposes the underlying handle for read-only reporting queries.
func (s *Service) DB() *gorm.DB {
	return s.db
}

func (s *Service) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// assignmentTxOptions returns the isolation used for assignment writes.
// SQLite serialises writers on its own and rejects explicit levels.
func (s *Service) assignmentTxOptions() []*sql.TxOptions {
	if s.db.Dialector.Name() == "postgres" {
		return []*sql.TxOptions{{Isolation: sql.LevelSerializable}}
	}
	return nil
}

// assignmentTx runs fn in one transaction with assignmentTxOptions. A
// serialization failure rolls back and runs fn again from scratch, so fn must
// not keep state from a previous attempt.
func (s *Service) assignmentTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxAssignmentAttempts; attempt++ {
		err = s.conn(ctx).Transaction(fn, s.assignmentTxOptions()...)
		if !isSerializationFailure(err) || ctx.Err() != nil {
			return err
		}
		s.log.Debug("retrying assignment after serialization failure", zap.Int("attempt", attempt))
	}
	return err
}

// isSerializationFailure reports SQLSTATE 40001 from postgres.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func optionalID(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}
