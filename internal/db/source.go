package db

import (
	"context"
	"errors"

	"github.com/marianozunino/filez/internal/model"
)

var ErrLegacyDisabled = errors.New("filez-1.x links are disabled")

// FileMetadataSource resolves a public key from a URL to a file record
type FileMetadataSource interface {
	Lookup(ctx context.Context, key string) (model.FileRecord, error)
}

// HashSource resolves current download hashes
type HashSource struct {
	DB *DB
}

func (s HashSource) Lookup(ctx context.Context, key string) (model.FileRecord, error) {
	return s.DB.FindByHash(ctx, key)
}

// LegacySource resolves filez-1.x download keys when compatibility is on
type LegacySource struct {
	DB      *DB
	Enabled bool
}

func (s LegacySource) Lookup(ctx context.Context, key string) (model.FileRecord, error) {
	if !s.Enabled {
		return model.FileRecord{}, ErrLegacyDisabled
	}
	return s.DB.FindByFzOneHash(ctx, key)
}
