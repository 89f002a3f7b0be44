package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	chatRepository "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/repository"
)

const (
	DriverLocal = "local"
	DriverS3    = "s3"
)

// NewBlobStore picks the backend named by cfg.Driver.
func NewBlobStore(ctx context.Context, cfg config.StorageConfig) (chatRepository.BlobStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverLocal:
		return NewLocalStorage(cfg.LocalPath)
	case DriverS3:
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
