// Package testutil builds real SQLite stores and seeded records for tests.
package testutil

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/config"
	"github.com/marianozunino/filez/internal/db"
	"github.com/marianozunino/filez/internal/model"
)

// Now is the fixed clock used across package tests
var Now = time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

func Clock() time.Time { return Now }

// Config returns a valid configuration rooted in a fresh temp dir
func Config(t *testing.T) *config.Config {
	t.Helper()
	tempDir := t.TempDir()

	return &config.Config{
		Port:                   0,
		BaseURL:                "http://localhost:8080/",
		UploadPath:             tempDir,
		SQLitePath:             filepath.Join(tempDir, "test.db"),
		MaxSize:                10,
		HashLength:             12,
		LogLevel:               "debug",
		AdminToken:             "admin-secret",
		DefaultLifetime:        7 * 24 * time.Hour,
		ExtensionUnit:          7 * 24 * time.Hour,
		MaxExtendCount:         2,
		CheckInterval:          60,
		SweeperEnabled:         true,
		NotificationWindowDays: 2,
		Filez1Compat:           true,
	}
}

// NewDB opens a migrated store for cfg and closes it with the test
func NewDB(t *testing.T, cfg *config.Config) *db.DB {
	t.Helper()

	store, err := db.NewDB(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

// OwnerID is the uploader ID of seeded records
const OwnerID = "owner-1"

// Owner is the user owning seeded records
var Owner = &model.User{ID: OwnerID, Email: "owner@example.com", FirstName: "Olive", LastName: "Owner"}

// SeedRecord stores content and a record expiring at expiresAt. Mutators
// run before the insert.
func SeedRecord(t *testing.T, store *db.DB, hash string, expiresAt time.Time, mutate ...func(*model.FileRecord)) model.FileRecord {
	t.Helper()

	content := "content of " + hash
	name, size, err := store.WriteContent(strings.NewReader(content))
	require.NoError(t, err)

	ownerID := OwnerID
	rec := model.FileRecord{
		Hash:           hash,
		FileName:       hash + ".txt",
		FileSize:       size,
		ContentType:    "text/plain; charset=utf-8",
		StorageName:    name,
		UploaderID:     &ownerID,
		UploaderEmail:  Owner.Email,
		NotifyUploader: true,
		CreatedAt:      Now.Add(-24 * time.Hour),
		ExpiresAt:      expiresAt,
	}
	for _, m := range mutate {
		m(&rec)
	}

	rec, err = store.Create(context.Background(), rec)
	require.NoError(t, err)
	return rec
}
