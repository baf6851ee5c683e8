package migration

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
)

// Manager applies the migrations found in a file system through an Executor.
type Manager struct {
	source   fs.FS
	executor *Executor
	logger   *slog.Logger
}

// NewManager returns a manager. A nil logger discards output.
func NewManager(source fs.FS, executor *Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{source: source, executor: executor, logger: logger.With("component", "migration")}
}

// Status compares the available migrations with the applied ones. An applied
// migration whose file changed afterwards is reported as ErrChecksumMismatch.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, err
	}
	available, err := Scan(m.source)
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.Applied(ctx)
	if err != nil {
		return Status{}, err
	}

	checksums := make(map[int]string, len(applied))
	status := Status{Applied: applied}
	for _, a := range applied {
		checksums[a.Version] = a.Checksum
		status.CurrentVersion = max(status.CurrentVersion, a.Version)
	}
	for _, mig := range available {
		sum, ok := checksums[mig.Version]
		switch {
		case !ok:
			status.Pending = append(status.Pending, mig)
		case sum != mig.Checksum:
			return Status{}, newMigrationError(mig, "verify checksum", ErrChecksumMismatch)
		}
	}
	return status, nil
}

// Run applies every pending migration in version order and stops at the
// first failure.
func (m *Manager) Run(ctx context.Context) error {
	status, err := m.Status(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	if len(status.Pending) == 0 {
		m.logger.DebugContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return nil
	}

	m.logger.InfoContext(ctx, "applying migrations", "from", status.CurrentVersion, "pending", len(status.Pending))
	for _, mig := range status.Pending {
		if err := m.executor.Apply(ctx, mig); err != nil {
			m.logger.ErrorContext(ctx, "migration failed", "version", mig.Version, "name", mig.Name, "error", err)
			return err
		}
		m.logger.InfoContext(ctx, "migration applied", "version", mig.Version, "description", mig.Description)
	}
	return nil
}
