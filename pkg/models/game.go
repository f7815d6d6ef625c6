package models

import "time"

const (
	GameStatusScheduled  = "scheduled"
	GameStatusInProgress = "in_progress"
	GameStatusFinal      = "final"
	GameStatusPostponed  = "postponed"
	GameStatusCanceled   = "canceled"
)

// Game is a tenant-scoped schedule entry mirrored from the provider
type Game struct {
	ID         string
	TenantID   string
	ExternalID string
	Slug       string
	HomeTeam   string
	AwayTeam   string
	StartTime  time.Time
	Status     string
	HomeScore  *int
	AwayScore  *int
	UpdatedAt  time.Time
}

// GameRef identifies a game eligible for live stats polling
type GameRef struct {
	ID         string
	ExternalID string
	Status     string
	StartTime  time.Time
}

// RosterPlayer is one player on a tenant's roster
type RosterPlayer struct {
	TenantID   string
	ExternalID string
	FirstName  string
	LastName   string
	Uniform    string
	Position   string
	ClassYear  string
}

// SyncResult summarizes one full sync of a tenant
type SyncResult struct {
	TenantID      string
	PlayersSynced int
	GamesSynced   int
	Duration      time.Duration
}

// SyncRun is the audit row written for each sync the engine performs
type SyncRun struct {
	ID          string
	TenantID    string
	Kind        string
	GameID      *string
	TriggeredBy *string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string
	Error       *string
}
