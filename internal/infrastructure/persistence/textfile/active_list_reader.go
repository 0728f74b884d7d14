package textfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
	"github.com/coolio-hub/guild-activity-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVE LIST READER
// ══════════════════════════════════════════════════════════════════════════════

// ActiveListReader reads the Active list written by the most recent tracking
// run, one identity per line. A missing file yields an empty list: the role
// sync then strips the active role from everyone, which is exactly what an
// empty Active list means.
type ActiveListReader struct {
	dir string
	log *logger.Logger
}

// NewActiveListReader creates a new ActiveListReader targeting dir.
func NewActiveListReader(dir string, log *logger.Logger) *ActiveListReader {
	return &ActiveListReader{
		dir: dir,
		log: log.With(logger.Component("active-list-reader")),
	}
}

// ActiveIdentities returns the identities listed in the active list file.
func (r *ActiveListReader) ActiveIdentities(_ context.Context) ([]shared.Identity, error) {
	path := filepath.Join(r.dir, ActiveListFilename)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.log.Warn("active list file not found, treating as empty",
				logger.String("path", path))
			return []shared.Identity{}, nil
		}
		return nil, shared.WrapError("activity", "ReadActiveList", shared.ErrExternalService, "read active list file", err)
	}

	lines := strings.Split(string(data), "\n")
	ids := make([]shared.Identity, 0, len(lines))
	for _, line := range lines {
		ign := strings.TrimSpace(line)
		if ign == "" {
			continue
		}
		ids = append(ids, shared.Identity(ign))
	}

	r.log.Debug("active list loaded",
		logger.String("path", path),
		logger.Count("identities", len(ids)))
	return ids, nil
}
