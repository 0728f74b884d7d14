package textfile

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
	"github.com/coolio-hub/guild-activity-hub/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard})
}

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const rosterFixture = `Guild Name: The Coolios
Total Members: 8

---Guild Master---
Kirington ●
---Scrambled Egg---
Everlynn ● Aurvandil ● Zephyra
---Hard Boiled Egg---
Nimbusphere ● Quietwillow
---Raw Egg---
Marisol ● Thornbury
Online Members: 3
this trailing content is ignored
`

func TestRosterRepository_Load(t *testing.T) {
	path := writeFixture(t, "guild_list.txt", rosterFixture)
	repo := NewRosterRepository(path, testLogger())

	roster, err := repo.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []member.Rank{
		"Guild Master",
		member.RankScrambledEgg,
		member.RankHardBoiledEgg,
		member.RankRawEgg,
	}, roster.Ranks())
	assert.Equal(t, 8, roster.Size())
	assert.Equal(t,
		[]shared.Identity{"Everlynn", "Aurvandil", "Zephyra"},
		roster.Members(member.RankScrambledEgg))
	assert.Equal(t,
		[]shared.Identity{"Marisol", "Thornbury"},
		roster.Members(member.RankRawEgg))

	rank, ok := roster.RankOf("Quietwillow")
	require.True(t, ok)
	assert.Equal(t, member.RankHardBoiledEgg, rank)
}

func TestRosterRepository_MultipleBulletLinesAccumulate(t *testing.T) {
	// The game client wraps long sections across lines; every bullet line
	// under a delimiter belongs to that rank.
	path := writeFixture(t, "guild_list.txt", `---Raw Egg---
Kirington ● Everlynn
Aurvandil ● Zephyra
`)
	repo := NewRosterRepository(path, testLogger())

	roster, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t,
		[]shared.Identity{"Kirington", "Everlynn", "Aurvandil", "Zephyra"},
		roster.Members(member.RankRawEgg))
}

func TestRosterRepository_StopsAtFirstNonRosterLine(t *testing.T) {
	path := writeFixture(t, "guild_list.txt", `---Raw Egg---
Kirington ● Everlynn

---Hard Boiled Egg---
Aurvandil ●
`)
	repo := NewRosterRepository(path, testLogger())

	// The blank line after the first section ends the roster block, so the
	// second section is never read.
	roster, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []member.Rank{member.RankRawEgg}, roster.Ranks())
	assert.Equal(t, 2, roster.Size())
}

func TestRosterRepository_MissingFileIsFatal(t *testing.T) {
	repo := NewRosterRepository(filepath.Join(t.TempDir(), "absent.txt"), testLogger())

	_, err := repo.Load(context.Background())
	require.Error(t, err)
	assert.True(t, shared.IsInputUnavailable(err))
}

func TestRosterRepository_NoSections(t *testing.T) {
	path := writeFixture(t, "guild_list.txt", "just a header\nno delimiters here\n")
	repo := NewRosterRepository(path, testLogger())

	_, err := repo.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}

func TestRosterRepository_LastUpdated(t *testing.T) {
	path := writeFixture(t, "guild_list.txt", rosterFixture)
	repo := NewRosterRepository(path, testLogger())

	modTime, err := repo.LastUpdated(context.Background())
	require.NoError(t, err)
	assert.False(t, modTime.IsZero())

	_, err = NewRosterRepository(filepath.Join(t.TempDir(), "gone.txt"), testLogger()).
		LastUpdated(context.Background())
	assert.True(t, shared.IsInputUnavailable(err))
}

func TestRankName(t *testing.T) {
	assert.Equal(t, member.Rank("Raw Egg"), rankName("---Raw Egg---"))
	assert.Equal(t, member.Rank("Raw Egg"), rankName("  ---Raw Egg---  "))
	assert.Equal(t, member.Rank(""), rankName("--"))
	assert.Equal(t, member.Rank(""), rankName("------"))
}
