package member

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

func section(rank Rank, igns ...string) RosterSection {
	s := RosterSection{Rank: rank}
	for _, ign := range igns {
		s.Members = append(s.Members, shared.Identity(ign))
	}
	return s
}

func TestNewRoster_PreservesFileOrder(t *testing.T) {
	roster, err := NewRoster([]RosterSection{
		section("Guild Master", "Kirington"),
		section(RankScrambledEgg, "Everlynn", "Aurvandil"),
		section(RankRawEgg, "Zephyra", "Nimbusphere"),
	})
	require.NoError(t, err)

	assert.Equal(t, []Rank{"Guild Master", RankScrambledEgg, RankRawEgg}, roster.Ranks())
	assert.Equal(t,
		[]shared.Identity{"Kirington", "Everlynn", "Aurvandil", "Zephyra", "Nimbusphere"},
		roster.All())
	assert.Equal(t, 5, roster.Size())
}

func TestNewRoster_MergesRepeatedRankSections(t *testing.T) {
	roster, err := NewRoster([]RosterSection{
		section(RankRawEgg, "Kirington"),
		section(RankHardBoiledEgg, "Everlynn"),
		section(RankRawEgg, "Zephyra"),
	})
	require.NoError(t, err)

	assert.Equal(t, []Rank{RankRawEgg, RankHardBoiledEgg}, roster.Ranks())
	assert.Equal(t, []shared.Identity{"Kirington", "Zephyra"}, roster.Members(RankRawEgg))
}

func TestNewRoster_DuplicateIdentityKeepsFirstRank(t *testing.T) {
	roster, err := NewRoster([]RosterSection{
		section(RankRawEgg, "Kirington"),
		section(RankHardBoiledEgg, "Kirington"),
	})
	require.NoError(t, err)

	rank, ok := roster.RankOf("Kirington")
	require.True(t, ok)
	assert.Equal(t, RankRawEgg, rank)
	assert.Empty(t, roster.Members(RankHardBoiledEgg))
	assert.Equal(t, 1, roster.Size())
}

func TestNewRoster_Validation(t *testing.T) {
	_, err := NewRoster(nil)
	assert.ErrorIs(t, err, ErrNoSections)

	_, err = NewRoster([]RosterSection{section(RankRawEgg)})
	assert.ErrorIs(t, err, ErrNoMembers)

	_, err = NewRoster([]RosterSection{section("  ", "Kirington")})
	assert.ErrorIs(t, err, ErrBlankRankName)

	_, err = NewRoster([]RosterSection{section(RankRawEgg, "")})
	assert.ErrorIs(t, err, ErrBlankMemberName)
}

func TestRoster_Lookups(t *testing.T) {
	roster, err := NewRoster([]RosterSection{
		section(RankRawEgg, "Kirington"),
	})
	require.NoError(t, err)

	assert.True(t, roster.Contains("Kirington"))
	assert.False(t, roster.Contains("Everlynn"))
	assert.Nil(t, roster.Members(RankScrambledEgg))

	_, ok := roster.RankOf("Everlynn")
	assert.False(t, ok)
}

func TestRank_Ladder(t *testing.T) {
	assert.True(t, RankRawEgg.IsBelow(RankHardBoiledEgg))
	assert.True(t, RankHardBoiledEgg.IsBelow(RankScrambledEgg))
	assert.False(t, RankScrambledEgg.IsBelow(RankRawEgg))
	assert.False(t, Rank("Guild Master").IsBelow(RankScrambledEgg))

	assert.True(t, RankRawEgg.OnLadder())
	assert.False(t, Rank("Guild Master").OnLadder())
	assert.Equal(t, -1, Rank("Guild Master").Position())
	assert.Equal(t, 2, RankScrambledEgg.Position())
}

func TestLevelDirectory_Lookup(t *testing.T) {
	dir := NewLevelDirectory([]LevelEntry{
		{Identity: "Kirington", Level: 251.4},
		{Identity: "Everlynn", Level: 180},
		{Identity: "Everlynn", Level: 195},
	})

	assert.Equal(t, shared.SkyblockLevel(251.4), dir.Lookup("Kirington"))
	// A repeated entry keeps the most recent level.
	assert.Equal(t, shared.SkyblockLevel(195), dir.Lookup("Everlynn"))
	assert.Equal(t, shared.LevelUnknown, dir.Lookup("Aurvandil"))
	assert.False(t, dir.Lookup("Aurvandil").IsKnown())
	assert.Equal(t, 2, dir.Size())
}
