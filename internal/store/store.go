// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"

	"github.com/NathanEdg/SpikeReports/internal/domain"
)

// Repository defines the interface for persisting collection state and
// summary history.
type Repository interface {
	// UpsertSession records the open session for a channel, replacing any
	// previous thread for that channel.
	UpsertSession(ctx context.Context, session domain.CollectionSession) error

	// GetSession returns the open session for a channel, or nil if none.
	GetSession(ctx context.Context, channelID string) (*domain.CollectionSession, error)

	// ListSessions returns every open session.
	ListSessions(ctx context.Context) ([]domain.CollectionSession, error)

	// AppendReport inserts a collected report and sets its ID.
	AppendReport(ctx context.Context, report *domain.CollectedReport) error

	// ListReports returns a channel's reports in submission order.
	ListReports(ctx context.Context, channelID string) ([]domain.CollectedReport, error)

	// ListAllReports returns every report grouped by channel, each group in
	// submission order.
	ListAllReports(ctx context.Context) (map[string][]domain.CollectedReport, error)

	// ResetAll deletes every session and every report in one transaction.
	ResetAll(ctx context.Context) error

	// ResetThrough applies every cutoff in one transaction.
	ResetThrough(ctx context.Context, cutoffs []domain.ResetCutoff) error

	// SaveSummary appends a summary record and returns its ID.
	SaveSummary(ctx context.Context, record *domain.SummaryRecord) (int64, error)

	// ListSummaries returns records newest date first.
	ListSummaries(ctx context.Context, limit, offset int) ([]domain.SummaryRecord, error)

	// CountSummaries returns the number of stored records.
	CountSummaries(ctx context.Context) (int64, error)

	// GetSummary returns a record by ID, or nil if none.
	GetSummary(ctx context.Context, id int64) (*domain.SummaryRecord, error)

	// GetSummaryByDate returns the most recent record for a date, or nil if none.
	GetSummaryByDate(ctx context.Context, date string) (*domain.SummaryRecord, error)

	// DeleteSummary removes a record. It reports whether a record was deleted.
	DeleteSummary(ctx context.Context, id int64) (bool, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// StorageError wraps any failure reaching the persistent store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
