// Package factory opens the blob.Store selected by configuration.
package factory

import (
	"context"
	"fmt"

	"github.com/roach88/pitchtime/internal/blob"
	"github.com/roach88/pitchtime/internal/blob/fs"
	"github.com/roach88/pitchtime/internal/blob/memory"
	"github.com/roach88/pitchtime/internal/blob/s3"
)

// Open returns the store for cfg.Driver. An empty driver means fs.
func Open(ctx context.Context, cfg blob.Config) (blob.Store, error) {
	switch cfg.Driver {
	case "", blob.DriverFilesystem:
		return fs.New(cfg.Root)
	case blob.DriverS3:
		return s3.New(ctx, cfg.S3)
	case blob.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
