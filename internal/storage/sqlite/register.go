package sqlite

import (
	"context"

	"lettercast/internal/storage"
)

func init() {
	storage.Register("sqlite", func(ctx context.Context, config map[string]string) (storage.Store, error) {
		return New(config["path"])
	})
}
