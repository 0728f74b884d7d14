package textfile

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
	"github.com/coolio-hub/guild-activity-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LevelRepository implements member.LevelRepository over the level list
// text export. Lines look like "12. SomeIGN: 251.4" with optional noise
// around them.
type LevelRepository struct {
	path string
	log  *logger.Logger
}

// NewLevelRepository creates a new LevelRepository reading from path.
func NewLevelRepository(path string, log *logger.Logger) *LevelRepository {
	return &LevelRepository{
		path: path,
		log:  log.With(logger.Component("level-repo")),
	}
}

// Load parses the level file. Every line containing a colon contributes an
// entry: the identity is the second token left of the first colon, the level
// is the first token between the first and second colons. Lines without a
// colon are ignored; lines with a colon but a malformed side are skipped
// with a warning.
func (r *LevelRepository) Load(ctx context.Context) (*member.LevelDirectory, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, shared.WrapError("member", "LoadLevels", shared.ErrInputUnavailable, "open level file", err)
	}
	defer f.Close()

	var entries []member.LevelEntry
	lineNo := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !strings.Contains(line, ":") {
			continue
		}

		parts := strings.SplitN(line, ":", 3)
		leftTokens := strings.Fields(parts[0])
		rightTokens := strings.Fields(parts[1])
		if len(leftTokens) < 2 || len(rightTokens) == 0 {
			r.log.Warn("skipping malformed level line", logger.Int("line", lineNo))
			continue
		}

		level, err := strconv.ParseFloat(rightTokens[0], 64)
		if err != nil {
			r.log.Warn("skipping level line with unparseable level",
				logger.Int("line", lineNo),
				logger.Identity(leftTokens[1]))
			continue
		}

		entries = append(entries, member.LevelEntry{
			Identity: shared.Identity(leftTokens[1]),
			Level:    shared.SkyblockLevel(level),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, shared.WrapError("member", "LoadLevels", shared.ErrInputUnavailable, "read level file", err)
	}

	r.log.Debug("level directory loaded", logger.Count("entries", len(entries)))

	return member.NewLevelDirectory(entries), nil
}

// LastUpdated returns the level file's modification time.
func (r *LevelRepository) LastUpdated(ctx context.Context) (time.Time, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return time.Time{}, shared.WrapError("member", "LoadLevels", shared.ErrInputUnavailable, "stat level file", err)
	}
	return info.ModTime(), nil
}
