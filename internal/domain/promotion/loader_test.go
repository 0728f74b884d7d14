package promotion

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
)

const policyDoc = `
transitions:
  - name: raw-to-boiled
    title: Raw to Boiled
    from: Raw Egg
    to: Hard Boiled Egg
    recency_days: 7
    required_long_sessions: 1
    tenure_days: 30
  - name: boiled-to-scrambled
    title: Boiled to Scrambled
    from: Hard Boiled Egg
    to: Scrambled Egg
    recency_days: 7
    required_long_sessions: 1
    tenure_days: 91
    min_level: 240
`

func TestParsePolicyYAML(t *testing.T) {
	policy, err := ParsePolicyYAML([]byte(policyDoc))
	require.NoError(t, err)
	require.Len(t, policy.Transitions, 2)

	raw := policy.Transitions[0]
	assert.Equal(t, "raw-to-boiled", raw.Name)
	assert.Equal(t, member.RankRawEgg, raw.From)
	assert.Equal(t, member.RankHardBoiledEgg, raw.To)
	assert.Equal(t, 7*24*time.Hour, raw.RecencyWindow)
	assert.Equal(t, 30*24*time.Hour, raw.TenureWindow)
	assert.False(t, raw.HasLevelGate())

	boiled := policy.Transitions[1]
	assert.Equal(t, 91*24*time.Hour, boiled.TenureWindow)
	assert.True(t, boiled.HasLevelGate())
	assert.Equal(t, float64(240), boiled.MinLevel)
}

func TestParsePolicyYAML_MatchesDefaultPolicy(t *testing.T) {
	policy, err := ParsePolicyYAML([]byte(policyDoc))
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), policy)
}

func TestParsePolicyYAML_EmptyPayload(t *testing.T) {
	_, err := ParsePolicyYAML([]byte("  \n\t"))
	assert.ErrorContains(t, err, "empty")
}

func TestParsePolicyYAML_MalformedDocument(t *testing.T) {
	_, err := ParsePolicyYAML([]byte("transitions: [not: valid: yaml"))
	assert.ErrorContains(t, err, "decode policy")
}

func TestParsePolicyYAML_RejectsInvalidTransition(t *testing.T) {
	doc := strings.Replace(policyDoc, "recency_days: 7", "recency_days: 0", 1)
	_, err := ParsePolicyYAML([]byte(doc))
	assert.ErrorContains(t, err, "recency window")
}

func TestLoadPolicyFile_EmptyPathUsesDefault(t *testing.T) {
	policy, err := LoadPolicyFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), policy)
}

func TestLoadPolicyFile_ReadsDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promotion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(policyDoc), 0o644))

	policy, err := LoadPolicyFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), policy)
}

func TestLoadPolicyFile_MissingFile(t *testing.T) {
	_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadPolicyReader(t *testing.T) {
	policy, err := LoadPolicyReader(strings.NewReader(policyDoc))
	require.NoError(t, err)
	require.Len(t, policy.Transitions, 2)
}
