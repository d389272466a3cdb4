package config

import "os"

// TokenSource represents where gh will find GitHub credentials.
type TokenSource string

const (
	TokenSourceGHToken     TokenSource = "GH_TOKEN"
	TokenSourceGitHubToken TokenSource = "GITHUB_TOKEN"
	// TokenSourceGH means gh falls back to its own stored login.
	TokenSourceGH TokenSource = "gh auth"
)

// GetTokenSource returns which credential gh will use, in gh's own order.
func GetTokenSource() TokenSource {
	if os.Getenv("GH_TOKEN") != "" {
		return TokenSourceGHToken
	}
	if os.Getenv("GITHUB_TOKEN") != "" {
		return TokenSourceGitHubToken
	}
	return TokenSourceGH
}

// MaskToken returns a masked version of a token for display.
// Shows the first 4 characters and last 4 characters.
func MaskToken(token string) string {
	if token == "" {
		return "(not set)"
	}

	if len(token) <= 12 {
		return "***"
	}

	return token[:4] + "..." + token[len(token)-4:]
}
