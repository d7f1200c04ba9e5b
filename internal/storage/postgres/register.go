package postgres

import (
	"context"

	"lettercast/internal/storage"
)

func init() {
	storage.Register("postgres", func(ctx context.Context, config map[string]string) (storage.Store, error) {
		return New(ctx, Config{
			Host:     config["host"],
			Port:     config["port"],
			Database: config["database"],
			Username: config["username"],
			Password: config["password"],
			SSLMode:  config["sslmode"],
		})
	})
}
