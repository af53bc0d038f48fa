package jobs

import (
	"context"
	"fmt"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// NewStore creates the job store selected by cfg. An empty type means
// memory.
func NewStore(ctx context.Context, cfg cloudcall.JobStoreConfig) (Store, error) {
	switch cfg.Type {
	case "", cloudcall.JobStoreMemory:
		return NewMemoryStore(), nil

	case cloudcall.JobStoreNATS:
		if cfg.NATSURL == "" {
			return nil, constants.ErrNATSConfigRequired
		}

		return NewNATSStore(ctx, NATSConfig{
			URL:    cfg.NATSURL,
			Bucket: cfg.Bucket,
			TTL:    cfg.TTL,
		})

	case cloudcall.JobStoreNone:
		return NewNopStore(), nil

	default:
		return nil, fmt.Errorf("%w: %s", constants.ErrUnsupportedJobStoreType, cfg.Type)
	}
}
