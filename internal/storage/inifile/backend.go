package inifile

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/AdguardTeam/FilterSync/internal/storage"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	renameio "github.com/google/renameio/v2"
)

// backupSuffix is the suffix of the backup file.
const backupSuffix = ".bak"

// Backend is a [storage.Backend] that keeps the data in a file.  Before every
// save, the previous file is kept as a backup, which is used when the main
// file is missing or broken.
type Backend struct {
	logger *slog.Logger
	path   string
}

// NewBackend returns a new *Backend for the file at path.
func NewBackend(logger *slog.Logger, path string) (b *Backend) {
	return &Backend{
		logger: logger,
		path:   path,
	}
}

// type check
var _ storage.Backend = (*Backend)(nil)

// Load implements the [storage.Backend] interface for *Backend.
func (b *Backend) Load(ctx context.Context) (d *storage.Data, err error) {
	d, err = loadFile(b.path)
	if err == nil && d != nil {
		return d, nil
	}

	if err != nil {
		b.logger.WarnContext(ctx, "loading main file", slogutil.KeyError, err)
	}

	bakPath := b.path + backupSuffix
	d, bakErr := loadFile(bakPath)
	if bakErr != nil {
		return nil, errors.Join(err, fmt.Errorf("loading backup: %w", bakErr))
	}

	if d == nil {
		b.logger.InfoContext(ctx, "no data files", "path", b.path)

		return &storage.Data{}, nil
	}

	b.logger.InfoContext(ctx, "loaded backup", "path", bakPath)

	return d, nil
}

// loadFile decodes the file at path.  d is nil if the file doesn't exist.
func loadFile(path string) (d *storage.Data, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// File could be deleted or not yet created, go on.
			return nil, nil
		}

		return nil, err
	}

	d, err = Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %q: %w", path, err)
	}

	return d, nil
}

// Save implements the [storage.Backend] interface for *Backend.
func (b *Backend) Save(ctx context.Context, d *storage.Data) (err error) {
	err = os.Rename(b.path, b.path+backupSuffix)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		b.logger.WarnContext(ctx, "creating backup", slogutil.KeyError, err)
	}

	err = renameio.WriteFile(b.path, Encode(d), 0o600)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	return nil
}
