package utils

import (
	"testing"
	"time"
)

func TestNormalizeSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Basic text with spaces",
			input:    "Hello World",
			expected: "hello-world",
		},
		{
			name:     "Accented characters",
			input:    "Café Résumé Naïve",
			expected: "cafe-resume-naive",
		},
		{
			name:     "Multiple spaces and hyphens",
			input:    "Test    ---    Multiple   Spaces",
			expected: "test-multiple-spaces",
		},
		{
			name:     "Leading and trailing spaces",
			input:    "   Test Text   ",
			expected: "test-text",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "College team",
			input:    "St. Olaf College",
			expected: "st-olaf-college",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeSlug(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeSlug(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGenerateGameSlug(t *testing.T) {
	start := time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		awayTeam   string
		homeTeam   string
		start      time.Time
		externalID string
		expected   string
	}{
		{
			name:       "Basic game",
			awayTeam:   "Away State",
			homeTeam:   "Home University",
			start:      start,
			externalID: "ev123",
			expected:   "away-state-at-home-university-2026-03-14-ev123",
		},
		{
			name:       "No start time",
			awayTeam:   "Away State",
			homeTeam:   "Home University",
			externalID: "ev123",
			expected:   "away-state-at-home-university-ev123",
		},
		{
			name:       "Empty team names",
			start:      start,
			externalID: "99999",
			expected:   "team-at-team-2026-03-14-99999",
		},
		{
			name:     "Empty external id",
			awayTeam: "A",
			homeTeam: "B",
			expected: "a-at-b-game",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateGameSlug(tt.awayTeam, tt.homeTeam, tt.start, tt.externalID)
			if result != tt.expected {
				t.Errorf("GenerateGameSlug(%q, %q, %v, %q) = %q, want %q",
					tt.awayTeam, tt.homeTeam, tt.start, tt.externalID, result, tt.expected)
			}
		})
	}
}

func TestGenerateTeamSlug(t *testing.T) {
	if got := GenerateTeamSlug(""); got != "team" {
		t.Errorf("GenerateTeamSlug(\"\") = %q, want team", got)
	}
	if got := GenerateTeamSlug("Home University!!!"); got != "home-university" {
		t.Errorf("GenerateTeamSlug = %q, want home-university", got)
	}
}

func TestSameTeam(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Home University", "home university", true},
		{"St. Olaf", "St Olaf", true},
		{"Home University", "Away State", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := SameTeam(tt.a, tt.b); got != tt.want {
			t.Errorf("SameTeam(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func BenchmarkGenerateGameSlug(b *testing.B) {
	start := time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)
	for i := 0; i < b.N; i++ {
		GenerateGameSlug("Away State", "Home University", start, "12345")
	}
}
