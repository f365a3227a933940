package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/debrid_streamer/internal/library"
	"github.com/italolelis/debrid_streamer/internal/telemetry"
)

// InstrumentedRepository wraps Repository with telemetry.
type InstrumentedRepository struct {
	repo      *Repository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedRepository creates a new instrumented library repository.
func NewInstrumentedRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedRepository {
	return &InstrumentedRepository{
		repo:      NewRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedRepository) Save(ctx context.Context, e library.Entry) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_entry", func(ctx context.Context) error {
		return r.repo.Save(ctx, e)
	})
}

// Get is instrumented as a success when the entry is missing.
func (r *InstrumentedRepository) Get(ctx context.Context, infoHash string) (library.Entry, error) {
	var (
		entry library.Entry
		err   error
	)

	_ = r.telemetry.InstrumentDBOperation(ctx, "get_entry", func(ctx context.Context) error {
		entry, err = r.repo.Get(ctx, infoHash)
		if errors.Is(err, library.ErrNotFound) {
			return nil
		}

		return err
	})

	return entry, err
}

func (r *InstrumentedRepository) List(ctx context.Context) ([]library.Entry, error) {
	var result []library.Entry

	err := r.telemetry.InstrumentDBOperation(ctx, "list_entries", func(ctx context.Context) error {
		var err error
		result, err = r.repo.List(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedRepository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	var deleted int64

	err := r.telemetry.InstrumentDBOperation(ctx, "delete_entries", func(ctx context.Context) error {
		var err error
		deleted, err = r.repo.DeleteBefore(ctx, t)

		return err
	})

	return deleted, err
}
