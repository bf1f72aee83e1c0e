package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/fpang/media-ingest/internal/media"
)

//go:embed schema.sql
var schemaSQL string

const mediaColumns = `user_id, media_id, publish_timestamp, media_type, media_url, permalink,
	thumbnail_url, caption, description, parent_media_id, album_children, embedding`

// recencyOrder sorts newest first; on ties, top-level items precede album children.
const recencyOrder = `ORDER BY publish_timestamp DESC, parent_media_id IS NOT NULL, media_id DESC`

const sqliteUpsertSQL = `
INSERT INTO instagram_media (user_id, media_id, publish_timestamp, media_type, media_url, permalink,
	thumbnail_url, caption, description, parent_media_id, album_children, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (media_id, user_id) DO UPDATE SET
	publish_timestamp = excluded.publish_timestamp,
	media_type        = excluded.media_type,
	media_url         = excluded.media_url,
	permalink         = excluded.permalink,
	thumbnail_url     = excluded.thumbnail_url,
	caption           = excluded.caption,
	description       = excluded.description,
	parent_media_id   = excluded.parent_media_id,
	album_children    = excluded.album_children,
	updated_at        = excluded.updated_at`

// SQLiteRepository implements Repository on a SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// Compile-time interface check.
var _ Repository = (*SQLiteRepository)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Each connection to ":memory:" is a separate database, and SQLite
	// allows a single writer in any case.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Debug().Str("path", path).Msg("SQLite repository opened")
	return &SQLiteRepository{db: db}, nil
}

// Close releases the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Upsert implements Repository.
func (r *SQLiteRepository) Upsert(ctx context.Context, items []media.Item, batchSize int) (int, error) {
	written := 0
	for n, batch := range chunk(items, batchSize) {
		if err := r.upsertBatch(ctx, batch); err != nil {
			return written, fmt.Errorf("upsert batch %d: %w", n, err)
		}
		written += len(batch)
		log.Debug().Int("batch", n).Int("size", len(batch)).Int("written", written).Msg("Media batch committed")
	}
	return written, nil
}

func (r *SQLiteRepository) upsertBatch(ctx context.Context, batch []media.Item) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, item := range batch {
		children, err := encodeChildren(item.AlbumChildren)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			item.UserID, item.MediaID, item.PublishTimestamp.UnixMilli(), string(item.MediaType), item.MediaURL,
			nullString(item.Permalink), nullString(item.ThumbnailURL), nullString(item.Caption),
			nullString(item.Description), nullString(item.ParentMediaID), children, now, now,
		)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", item.Key(), err)
		}
	}
	return tx.Commit()
}

// GetByID implements Repository.
func (r *SQLiteRepository) GetByID(ctx context.Context, userID, mediaID string) (*media.Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+mediaColumns+` FROM instagram_media WHERE user_id = ? AND media_id = ?`,
		userID, mediaID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get media %s/%s: %w", userID, mediaID, err)
	}
	return item, nil
}

// GetRecent implements Repository.
func (r *SQLiteRepository) GetRecent(ctx context.Context, userID string, n int, mediaType media.Type) ([]media.Item, error) {
	if n <= 0 {
		return nil, nil
	}
	query, args := recentQuery(userID, mediaType, "")
	return r.query(ctx, query+` LIMIT ?`, append(args, n)...)
}

// GetAll implements Repository.
func (r *SQLiteRepository) GetAll(ctx context.Context, userID string, mediaType media.Type) ([]media.Item, error) {
	query, args := recentQuery(userID, mediaType, "")
	return r.query(ctx, query, args...)
}

// GetLatest implements Repository.
func (r *SQLiteRepository) GetLatest(ctx context.Context, userID string) (*media.Item, error) {
	query, args := recentQuery(userID, "", topLevel)
	items, err := r.query(ctx, query+` LIMIT 1`, args...)
	if err != nil {
		return nil, fmt.Errorf("get latest media %s: %w", userID, err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// GetUnenriched implements Repository.
func (r *SQLiteRepository) GetUnenriched(ctx context.Context, userID string, mediaType media.Type, limit int) ([]media.Item, error) {
	query, args := recentQuery(userID, mediaType, unenriched)
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.query(ctx, query, args...)
}

// UpdateEmbeddings implements Repository.
func (r *SQLiteRepository) UpdateEmbeddings(ctx context.Context, userID string, embeddings map[string][]float32) (int, error) {
	if len(embeddings) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE instagram_media SET embedding = ?, updated_at = ? WHERE user_id = ? AND media_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("prepare embedding update: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	updated := 0
	for mediaID, emb := range embeddings {
		data, err := json.Marshal(emb)
		if err != nil {
			return 0, fmt.Errorf("encode embedding %s: %w", mediaID, err)
		}
		res, err := stmt.ExecContext(ctx, string(data), now, userID, mediaID)
		if err != nil {
			return 0, fmt.Errorf("update embedding %s/%s: %w", userID, mediaID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			updated += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit embeddings: %w", err)
	}
	return updated, nil
}

// DeleteUser implements Repository.
func (r *SQLiteRepository) DeleteUser(ctx context.Context, userID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM instagram_media WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete media of %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete media of %s: %w", userID, err)
	}
	log.Info().Str("userId", userID).Int64("deleted", n).Msg("User media deleted")
	return int(n), nil
}

func recentQuery(userID string, mediaType media.Type, extra string) (string, []any) {
	var where strings.Builder
	where.WriteString(`user_id = ?`)
	args := []any{userID}
	if mediaType != "" {
		where.WriteString(` AND media_type = ?`)
		args = append(args, string(mediaType))
	}
	if extra != "" {
		where.WriteString(` AND ` + extra)
	}
	return `SELECT ` + mediaColumns + ` FROM instagram_media WHERE ` + where.String() + ` ` + recencyOrder, args
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]media.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()

	var items []media.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*media.Item, error) {
	var (
		item                                    media.Item
		published                               int64
		mediaType                               string
		permalink, thumb, caption, desc, parent sql.NullString
		children, embedding                     sql.NullString
	)
	err := s.Scan(&item.UserID, &item.MediaID, &published, &mediaType, &item.MediaURL,
		&permalink, &thumb, &caption, &desc, &parent, &children, &embedding)
	if err != nil {
		return nil, err
	}
	item.PublishTimestamp = time.UnixMilli(published).UTC()
	item.MediaType = media.Type(mediaType)
	item.Permalink = fromNull(permalink)
	item.ThumbnailURL = fromNull(thumb)
	item.Caption = fromNull(caption)
	item.Description = fromNull(desc)
	item.ParentMediaID = fromNull(parent)
	if children.Valid {
		if err := json.Unmarshal([]byte(children.String), &item.AlbumChildren); err != nil {
			return nil, fmt.Errorf("decode album children of %s: %w", item.MediaID, err)
		}
	}
	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &item.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding of %s: %w", item.MediaID, err)
		}
	}
	return &item, nil
}

// encodeChildren returns the JSON column value, or nil for a leaf item.
func encodeChildren(children []media.ChildRef) (any, error) {
	if children == nil {
		return nil, nil
	}
	data, err := json.Marshal(children)
	if err != nil {
		return nil, fmt.Errorf("encode album children: %w", err)
	}
	return string(data), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
