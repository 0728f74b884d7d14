// Package textfile implements the roster and level-directory repositories
// over the officer-maintained text exports. The files are pasted from the
// game client, so the parsers follow the export format exactly and treat a
// missing file as fatal for the calling run.
package textfile

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
	"github.com/coolio-hub/guild-activity-hub/pkg/logger"
)

// bullet separates member names inside a rank section line.
const bullet = "●"

// rankDelimiterPrefix opens a rank section, e.g. "---Raw Egg---".
const rankDelimiterPrefix = "--"

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RosterRepository implements member.RosterRepository over the guild list
// text export.
type RosterRepository struct {
	path string
	log  *logger.Logger
}

// NewRosterRepository creates a new RosterRepository reading from path.
func NewRosterRepository(path string, log *logger.Logger) *RosterRepository {
	return &RosterRepository{
		path: path,
		log:  log.With(logger.Component("roster-repo")),
	}
}

// Load parses the roster file into rank sections.
//
// The export format: any preamble lines are skipped until the first rank
// delimiter ("--..."). Each delimiter opens a rank section named by the
// delimiter's inner text. Lines containing the bullet list that section's
// members. The first line that is neither a delimiter nor a bullet line
// ends the roster block; anything after it is ignored.
func (r *RosterRepository) Load(ctx context.Context) (*member.Roster, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, shared.WrapError("member", "LoadRoster", shared.ErrInputUnavailable, "open roster file", err)
	}
	defer f.Close()

	sections, err := parseRoster(f)
	if err != nil {
		return nil, err
	}

	roster, err := member.NewRoster(sections)
	if err != nil {
		return nil, shared.WrapError("member", "LoadRoster", shared.ErrInvalidFormat, "parse roster file", err)
	}

	r.log.Debug("roster loaded",
		logger.Count("ranks", len(roster.Ranks())),
		logger.Count("members", roster.Size()))

	return roster, nil
}

// LastUpdated returns the roster file's modification time.
func (r *RosterRepository) LastUpdated(ctx context.Context) (time.Time, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return time.Time{}, shared.WrapError("member", "LoadRoster", shared.ErrInputUnavailable, "stat roster file", err)
	}
	return info.ModTime(), nil
}

func parseRoster(f *os.File) ([]member.RosterSection, error) {
	var sections []member.RosterSection
	inBody := false

	scanner := bufio.NewScanner(f)
scan:
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, rankDelimiterPrefix):
			sections = append(sections, member.RosterSection{Rank: rankName(line)})
			inBody = true
		case !inBody:
			// Preamble before the first rank delimiter.
		case strings.Contains(line, bullet):
			last := &sections[len(sections)-1]
			for _, piece := range strings.Split(line, bullet) {
				ign := strings.TrimSpace(piece)
				if ign == "" {
					continue
				}
				last.Members = append(last.Members, shared.Identity(ign))
			}
		default:
			// End of the roster block.
			break scan
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, shared.WrapError("member", "LoadRoster", shared.ErrInputUnavailable, "read roster file", err)
	}

	return sections, nil
}

// rankName extracts the rank from a delimiter line: trim whitespace, then
// drop the three decoration runes on each side ("---Raw Egg---" -> "Raw Egg").
func rankName(line string) member.Rank {
	runes := []rune(strings.TrimSpace(line))
	if len(runes) <= 6 {
		return ""
	}
	return member.Rank(string(runes[3 : len(runes)-3]))
}
