package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/debrid_streamer/internal/library"
)

// Timestamps are stored as UTC RFC3339 text so they compare lexicographically.
const timeLayout = time.RFC3339

// Repository stores library entries in SQLite.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbConn *sql.DB) *Repository {
	return &Repository{db: dbConn}
}

// Save inserts the entry or replaces the one with the same info hash.
func (r *Repository) Save(ctx context.Context, e library.Entry) error {
	files, err := json.Marshal(e.Files)
	if err != nil {
		return fmt.Errorf("failed to encode files: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO acquisitions (info_hash, torrent_id, name, provider, files, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(info_hash) DO UPDATE SET
			torrent_id = excluded.torrent_id,
			name = excluded.name,
			provider = excluded.provider,
			files = excluded.files,
			created_at = excluded.created_at
	`, e.InfoHash, e.TorrentID, e.Name, e.Provider, string(files), e.CreatedAt.UTC().Format(timeLayout))

	return err
}

func (r *Repository) Get(ctx context.Context, infoHash string) (library.Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT info_hash, torrent_id, name, provider, files, created_at FROM acquisitions WHERE info_hash = ?`,
		infoHash,
	)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return library.Entry{}, library.ErrNotFound
	}

	return e, err
}

// List returns every entry, newest first.
func (r *Repository) List(ctx context.Context) ([]library.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT info_hash, torrent_id, name, provider, files, created_at FROM acquisitions ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []library.Entry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// DeleteBefore removes entries created before t and returns how many were removed.
func (r *Repository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM acquisitions WHERE created_at < ?`, t.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (library.Entry, error) {
	var (
		e         library.Entry
		name      sql.NullString
		files     string
		createdAt string
	)

	if err := s.Scan(&e.InfoHash, &e.TorrentID, &name, &e.Provider, &files, &createdAt); err != nil {
		return library.Entry{}, err
	}

	e.Name = name.String

	if err := json.Unmarshal([]byte(files), &e.Files); err != nil {
		return library.Entry{}, fmt.Errorf("failed to decode files of %s: %w", e.InfoHash, err)
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return library.Entry{}, fmt.Errorf("failed to parse created_at of %s: %w", e.InfoHash, err)
	}

	e.CreatedAt = t

	return e, nil
}
