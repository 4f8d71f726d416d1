package security

import (
	"regexp"
	"strings"
)

const (
	maxEmailLength   = 254
	strongScoreFloor = 40
)

var (
	usernameRe = regexp.MustCompile(`^[a-z0-9_\-@][a-z0-9._\-@]{2,29}$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~\-]+@[a-zA-Z0-9](?:[a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)+$`)

	usernameStripRe = regexp.MustCompile(`[^a-z0-9._\-@]`)

	commonPatterns = []string{
		"password", "123456", "qwerty", "admin", "abc123",
		"letmein", "welcome", "iloveyou",
	}
)

// ValidUsername reports whether name is 3-30 chars of lowercase
// alphanumerics plus ". _ - @", not starting with a dot.
func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

func ValidEmail(email string) bool {
	if len(email) > maxEmailLength {
		return false
	}
	return emailRe.MatchString(email)
}

// SanitizeUsername lowercases the input and strips every character outside
// the allowed username alphabet. It never fails; the result is best-effort
// and still subject to ValidUsername.
func SanitizeUsername(name string) string {
	return usernameStripRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "")
}

type PasswordStrength struct {
	Score    int      `json:"score"`
	IsStrong bool     `json:"isStrong"`
	Feedback []string `json:"feedback,omitempty"`
}

// ScorePassword applies the additive strength rubric: length milestones,
// character-class presence, and a flat penalty when a well-known weak
// pattern appears anywhere in the password.
func ScorePassword(password string) PasswordStrength {
	var result PasswordStrength

	switch {
	case len(password) >= 16:
		result.Score += 40
	case len(password) >= 12:
		result.Score += 30
	case len(password) >= 8:
		result.Score += 20
	default:
		result.Feedback = append(result.Feedback, "use at least 8 characters")
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	if hasLower {
		result.Score += 15
	} else {
		result.Feedback = append(result.Feedback, "add a lowercase letter")
	}
	if hasUpper {
		result.Score += 15
	} else {
		result.Feedback = append(result.Feedback, "add an uppercase letter")
	}
	if hasDigit {
		result.Score += 15
	} else {
		result.Feedback = append(result.Feedback, "add a digit")
	}
	if hasSpecial {
		result.Score += 15
	} else {
		result.Feedback = append(result.Feedback, "add a special character")
	}

	lowered := strings.ToLower(password)
	for _, pattern := range commonPatterns {
		if strings.Contains(lowered, pattern) {
			result.Score -= 20
			result.Feedback = append(result.Feedback, "avoid common words and sequences")
			break
		}
	}

	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 100 {
		result.Score = 100
	}
	result.IsStrong = result.Score >= strongScoreFloor
	return result
}
