package cli

import (
	"context"
	"errors"

	"github.com/YoshitsuguKoike/quotacycle/internal/infrastructure/di"
)

// newContainer builds the DI container from the loaded configuration
func newContainer(ctx context.Context) (*di.Container, error) {
	if globalConfig == nil {
		return nil, errors.New("configuration not loaded")
	}
	return di.NewContainer(ctx, di.Config{
		App:    globalConfig,
		Logger: appLogger,
	})
}
