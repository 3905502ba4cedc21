package backend

import (
	"fmt"
	"log/slog"

	"bilancio/internal/services"
	"bilancio/internal/storage"
	"bilancio/internal/storage/memory"
)

// CleanupFunc releases a backend's resources.
type CleanupFunc func() error

// Result contains the unit of work and an optional cleanup function.
type Result struct {
	UnitOfWork services.UnitOfWork
	Cleanup    CleanupFunc
}

// Factory creates backends based on configuration.
type Factory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{logger: logger}
}

// Create builds the configured backend.
func (f *Factory) Create(config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLite:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return &Result{UnitOfWork: repo, Cleanup: repo.Close}, nil

	case Memory:
		f.logger.Info("Initialized memory backend")
		return &Result{UnitOfWork: memory.New()}, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
