package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakfeed/cache-service/types"
)

func TestCompileAndMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		want    bool
	}{
		{"exact match", "user:1:profile", "user:1:profile", true},
		{"exact mismatch", "user:1:profile", "user:2:profile", false},
		{"star suffix", "user:*", "user:1:profile", true},
		{"star suffix excludes others", "user:*", "post:1", false},
		{"star is anchored", "user:*", "xuser:1", false},
		{"star matches empty", "user:*", "user:", true},
		{"question single char", "user:?:profile", "user:1:profile", true},
		{"question exactly one char", "user:?:profile", "user:12:profile", false},
		{"alternation first", "feed:{home|explore}:*", "feed:home:1", true},
		{"alternation second", "feed:{home|explore}:*", "feed:explore:99", true},
		{"alternation mismatch", "feed:{home|explore}:*", "feed:trending:1", false},
		{"regex metachars literal", "media:1.jpg", "media:1.jpg", true},
		{"dot not wildcard", "media:1.jpg", "media:1xjpg", false},
		{"substring not enough", "profile", "user:profile", false},
		{"empty key never matches", "user:*", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Compile(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Matches(tt.key))
		})
	}
}

func TestCompileInvalid(t *testing.T) {
	for _, p := range []string{"", "user:{a|b", "user:a}", "user:{a|{b}}"} {
		_, err := Compile(p)
		require.Error(t, err, "pattern %q", p)
		assert.True(t, types.IsError(err, types.ErrInvalidPattern))
	}
}

func TestMatchKeys(t *testing.T) {
	m, err := Compile("user:*")
	require.NoError(t, err)

	keys := []string{"user:1:profile", "user:2:profile", "post:1"}
	assert.Equal(t, []string{"user:1:profile", "user:2:profile"}, m.MatchKeys(keys))
}

func TestOptimize(t *testing.T) {
	optimized, score := Optimize("**user**:*?*:***data***")
	assert.Equal(t, "*user*:*:*data*", optimized)
	assert.Greater(t, score, 0)
}

func TestOptimizeKeepsQuestionRuns(t *testing.T) {
	optimized, _ := Optimize("user:??:profile")
	assert.Equal(t, "user:??:profile", optimized)
}

func TestScoreOrdering(t *testing.T) {
	_, exact := Optimize("user:1:profile")
	_, wild := Optimize("user:*")
	_, broad := Optimize("*:*:{a|b}:*")

	assert.Greater(t, exact, wild)
	assert.Greater(t, wild, broad)
}
