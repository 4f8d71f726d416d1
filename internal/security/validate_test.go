package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidUsername(t *testing.T) {
	valid := []string{"alice", "bob_99", "a-b", "x.y.z@dept", "abc"}
	for _, name := range valid {
		require.True(t, ValidUsername(name), name)
	}

	invalid := []string{
		"",
		"ab",                          // too short
		strings.Repeat("a", 31),       // too long
		".starts-with-dot",
		"Uppercase",
		"has space",
		"emojié",
	}
	for _, name := range invalid {
		require.False(t, ValidUsername(name), name)
	}
}

func TestValidEmail(t *testing.T) {
	require.True(t, ValidEmail("alice@example.com"))
	require.True(t, ValidEmail("a.b+tag@sub.example.co"))

	require.False(t, ValidEmail("not-an-email"))
	require.False(t, ValidEmail("missing@tld"))
	require.False(t, ValidEmail("@example.com"))
	require.False(t, ValidEmail(strings.Repeat("a", 250)+"@x.co"))
}

func TestSanitizeUsername(t *testing.T) {
	require.Equal(t, "alice", SanitizeUsername("  Alice  "))
	require.Equal(t, "bobsmith", SanitizeUsername("Bob Smith!?"))
	require.Equal(t, "a-b_c@d", SanitizeUsername("A-B_C@D"))
	require.Equal(t, "", SanitizeUsername("!!!"))
}

func TestScorePasswordRubric(t *testing.T) {
	tests := []struct {
		password string
		score    int
		strong   bool
	}{
		// 12+ chars (+30), all four classes (+60), contains "password" (-20).
		{"Password123!", 70, true},
		// 16+ chars (+40), all four classes (+60).
		{"Tr0ub4dor&3Horse", 100, true},
		// 8 chars (+20), lowercase only (+15).
		{"abcdefgh", 35, false},
		// Too short, lowercase only.
		{"abc", 15, false},
		// 8 chars (+20), lower+digit (+30), contains "123456" (-20).
		{"ab123456", 30, false},
	}

	for _, tt := range tests {
		result := ScorePassword(tt.password)
		require.Equal(t, tt.score, result.Score, tt.password)
		require.Equal(t, tt.strong, result.IsStrong, tt.password)
	}
}

func TestScorePasswordFeedback(t *testing.T) {
	result := ScorePassword("abc")
	require.False(t, result.IsStrong)
	require.Contains(t, result.Feedback, "use at least 8 characters")
	require.Contains(t, result.Feedback, "add an uppercase letter")
	require.Contains(t, result.Feedback, "add a digit")
	require.Contains(t, result.Feedback, "add a special character")

	strong := ScorePassword("Tr0ub4dor&3Horse")
	require.Empty(t, strong.Feedback)
}
