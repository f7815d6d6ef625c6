package utils

import (
	"time"

	"github.com/gosimple/slug"
)

// NormalizeSlug creates a URL-friendly slug using the gosimple/slug library
func NormalizeSlug(text string) string {
	if text == "" {
		return ""
	}
	return slug.Make(text)
}

// GenerateGameSlug builds "<away>-at-<home>-<date>-<external id>" for a game
func GenerateGameSlug(awayTeam, homeTeam string, start time.Time, externalID string) string {
	if homeTeam == "" {
		homeTeam = "team"
	}
	if awayTeam == "" {
		awayTeam = "team"
	}
	if externalID == "" {
		externalID = "game"
	}

	text := awayTeam + " at " + homeTeam
	if !start.IsZero() {
		text += " " + start.UTC().Format("2006-01-02")
	}
	return NormalizeSlug(text + " " + externalID)
}

// GenerateTeamSlug creates a slug for a team name
func GenerateTeamSlug(teamName string) string {
	if teamName == "" {
		return "team"
	}
	return NormalizeSlug(teamName)
}

// SameTeam reports whether two provider spellings name the same team
func SameTeam(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return GenerateTeamSlug(a) == GenerateTeamSlug(b)
}
