package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/config"
	"github.com/marianozunino/filez/internal/migration"
	"github.com/marianozunino/filez/internal/model"
)

var (
	ErrNotFound  = errors.New("there is no file for this code")
	ErrConflict  = errors.New("file was modified by another request")
	ErrHashTaken = errors.New("hash is already in use")
)

// DB is the file record store: metadata in SQLite, content under the
// upload path.
type DB struct {
	*sql.DB
	uploadPath string
	logger     *zap.Logger
}

// NewDB opens the SQLite database and applies pending migrations
func NewDB(cfg *config.Config, logger *zap.Logger) (*DB, error) {
	conn, err := Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	m, err := migration.NewManagerWithDB(conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := m.Up(); err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{DB: conn, uploadPath: cfg.UploadPath, logger: logger}, nil
}

// Open opens and pings the SQLite database without migrating it
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// ContentPath is the on-disk location of the record's bytes
func (db *DB) ContentPath(rec model.FileRecord) string {
	return filepath.Join(db.uploadPath, filepath.Base(rec.StorageName))
}

// WriteContent copies r to a new file under the upload path and returns its
// storage name and size.
func (db *DB) WriteContent(r io.Reader) (string, int64, error) {
	name := uuid.NewString()
	path := filepath.Join(db.uploadPath, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", 0, err
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return name, n, nil
}

// RemoveContent deletes stored bytes that never got a record
func (db *DB) RemoveContent(storageName string) error {
	err := os.Remove(filepath.Join(db.uploadPath, filepath.Base(storageName)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// OpenContent opens the record's bytes for reading
func (db *DB) OpenContent(rec model.FileRecord) (*os.File, error) {
	return os.Open(db.ContentPath(rec))
}

// Create inserts a new record and returns it with its ID and version set
func (db *DB) Create(ctx context.Context, rec model.FileRecord) (model.FileRecord, error) {
	res, err := db.ExecContext(ctx, insertFile,
		rec.Hash, nullString(rec.FzOneHash), rec.FileName, rec.FileSize, rec.ContentType, rec.StorageName,
		rec.UploaderID, rec.UploaderEmail, rec.NotifyUploader, rec.Password,
		toUnix(rec.CreatedAt), toUnix(rec.ExpiresAt),
		rec.ExtendsCount, rec.DeletionNotificationSent, rec.DownloadCount,
	)
	if err != nil {
		if isHashConflict(err) {
			return rec, fmt.Errorf("failed to insert file %s: %w", rec.Hash, ErrHashTaken)
		}
		return rec, fmt.Errorf("failed to insert file %s: %w", rec.Hash, err)
	}

	rec.ID, err = res.LastInsertId()
	if err != nil {
		return rec, err
	}
	rec.Version = 1
	return rec, nil
}

// isHashConflict reports a UNIQUE violation on files.hash
func isHashConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return strings.Contains(sqliteErr.Error(), "files.hash")
}

func (db *DB) FindByHash(ctx context.Context, hash string) (model.FileRecord, error) {
	return db.findOne(ctx, selectByHash, hash)
}

// FindByFzOneHash looks a record up by its filez-1.x download key
func (db *DB) FindByFzOneHash(ctx context.Context, fzOneHash string) (model.FileRecord, error) {
	if fzOneHash == "" {
		return model.FileRecord{}, ErrNotFound
	}
	return db.findOne(ctx, selectByFzOneHash, fzOneHash)
}

// FindExpired returns every record that is no longer available at now
func (db *DB) FindExpired(ctx context.Context, now time.Time) ([]model.FileRecord, error) {
	return db.findMany(ctx, selectExpired, toUnix(now))
}

// FindExpiringWithin returns opted-in, not yet notified records that are
// still available at now and expire no later than now+window.
func (db *DB) FindExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]model.FileRecord, error) {
	return db.findMany(ctx, selectExpiringWithin, toUnix(now), toUnix(now.Add(window)))
}

// ListByUploader returns the files owned by u, newest first
func (db *DB) ListByUploader(ctx context.Context, u *model.User) ([]model.FileRecord, error) {
	return db.findMany(ctx, selectByUploader, u.ID, u.Email)
}

// Save persists the mutable lifecycle fields of rec if nobody changed the
// record since it was read. The saved record is returned with its new version.
func (db *DB) Save(ctx context.Context, rec model.FileRecord) (model.FileRecord, error) {
	res, err := db.ExecContext(ctx, updateFile,
		rec.FileName, rec.Password, rec.NotifyUploader, toUnix(rec.ExpiresAt),
		rec.ExtendsCount, rec.DeletionNotificationSent,
		rec.Hash, rec.Version,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to save file %s: %w", rec.Hash, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return rec, err
	}
	if affected == 0 {
		exists, err := db.exists(ctx, rec.Hash)
		if err != nil {
			return rec, err
		}
		if !exists {
			return rec, ErrNotFound
		}
		return rec, ErrConflict
	}

	rec.Version++
	return rec, nil
}

// IncrementDownloadCount adds one download to the record atomically
func (db *DB) IncrementDownloadCount(ctx context.Context, hash string) error {
	res, err := db.ExecContext(ctx, incrementDownloadCount, hash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the record's content and then its metadata. A missing
// content file is not an error; any other removal failure keeps the
// metadata so a later sweep can retry.
func (db *DB) Delete(ctx context.Context, rec model.FileRecord) error {
	if rec.StorageName != "" {
		if err := os.Remove(db.ContentPath(rec)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove content of %s: %w", rec.Hash, err)
		}
	}

	if _, err := db.ExecContext(ctx, deleteByHash, rec.Hash); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", rec.Hash, err)
	}
	return nil
}

func (db *DB) exists(ctx context.Context, hash string) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx, selectExists, hash).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) findOne(ctx context.Context, query string, args ...any) (model.FileRecord, error) {
	rec, err := scanRecord(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	return rec, err
}

func (db *DB) findMany(ctx context.Context, query string, args ...any) ([]model.FileRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (model.FileRecord, error) {
	var (
		rec        model.FileRecord
		fzOneHash  sql.NullString
		uploaderID sql.NullString
		createdAt  int64
		expiresAt  int64
	)

	err := s.Scan(
		&rec.ID,
		&rec.Hash,
		&fzOneHash,
		&rec.FileName,
		&rec.FileSize,
		&rec.ContentType,
		&rec.StorageName,

		&uploaderID,
		&rec.UploaderEmail,
		&rec.NotifyUploader,
		&rec.Password,

		&createdAt,
		&expiresAt,
		&rec.ExtendsCount,
		&rec.DeletionNotificationSent,
		&rec.DownloadCount,
		&rec.Version,
	)
	if err != nil {
		return model.FileRecord{}, err
	}

	rec.FzOneHash = fzOneHash.String
	if uploaderID.Valid {
		id := uploaderID.String
		rec.UploaderID = &id
	}
	rec.CreatedAt = fromUnix(createdAt)
	rec.ExpiresAt = fromUnix(expiresAt)
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
