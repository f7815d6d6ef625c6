package presto

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iddaa-lens/statsync/pkg/models"
)

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// Player is one roster entry as the provider returns it
type Player struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Uniform   string `json:"uniform"`
	Position  string `json:"position"`
	ClassYear string `json:"year"`
}

// Event is one scheduled contest
type Event struct {
	ID        string      `json:"eventId"`
	StartTime time.Time   `json:"startDateTime"`
	Status    string      `json:"status"`
	Home      EventTeam   `json:"homeTeam"`
	Away      EventTeam   `json:"awayTeam"`
	Result    *EventScore `json:"result,omitempty"`
}

type EventTeam struct {
	ID   string `json:"teamId"`
	Name string `json:"name"`
}

type EventScore struct {
	HomeScore int `json:"homeScore"`
	AwayScore int `json:"awayScore"`
}

type listEnvelope[T any] struct {
	Data []T `json:"data"`
}

// RefreshToken exchanges a refresh token for new token material. Its
// signature matches credentials.RefreshFunc.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*models.Tokens, error) {
	raw, err := c.do(ctx, request{
		method:     http.MethodPost,
		endpoint:   "/auth/token/refresh",
		metricName: "token_refresh",
		body:       map[string]string{"refresh_token": refreshToken},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	var resp tokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token response carried no access token")
	}

	return &models.Tokens{
		AccessToken:      resp.AccessToken,
		RefreshToken:     resp.RefreshToken,
		ExpiresIn:        resp.ExpiresIn,
		RefreshExpiresIn: resp.RefreshExpiresIn,
	}, nil
}

// GetRoster fetches the players of a team for a season
func (c *Client) GetRoster(ctx context.Context, accessToken, teamID, season string) ([]Player, error) {
	params := map[string]string{}
	if season != "" {
		params["season"] = season
	}
	raw, err := c.do(ctx, request{
		method:      http.MethodGet,
		endpoint:    "/v2/teams/" + url.PathEscape(teamID) + "/players",
		metricName:  "roster",
		accessToken: accessToken,
		params:      params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get roster: %w", err)
	}

	var resp listEnvelope[Player]
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roster response: %w", err)
	}
	return resp.Data, nil
}

// GetSchedule fetches the events of a team for a season
func (c *Client) GetSchedule(ctx context.Context, accessToken, teamID, season string) ([]Event, error) {
	params := map[string]string{}
	if season != "" {
		params["season"] = season
	}
	raw, err := c.do(ctx, request{
		method:      http.MethodGet,
		endpoint:    "/v2/teams/" + url.PathEscape(teamID) + "/events",
		metricName:  "schedule",
		accessToken: accessToken,
		params:      params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	var resp listEnvelope[Event]
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule response: %w", err)
	}
	return resp.Data, nil
}

// GetEventStats returns the raw stats markup of an event. An empty string
// means the provider has no stats for it yet.
func (c *Client) GetEventStats(ctx context.Context, accessToken, eventID string) (string, error) {
	raw, err := c.do(ctx, request{
		method:      http.MethodGet,
		endpoint:    "/v2/events/" + url.PathEscape(eventID) + "/stats",
		metricName:  "event_stats",
		accessToken: accessToken,
		accept:      "application/xml",
	})
	if err != nil {
		return "", fmt.Errorf("failed to get event stats: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// GameStatus maps provider event status strings onto game statuses
func GameStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "live", "in_progress", "inprogress", "in progress":
		return models.GameStatusInProgress
	case "final", "completed", "closed":
		return models.GameStatusFinal
	case "postponed", "delayed":
		return models.GameStatusPostponed
	case "canceled", "cancelled":
		return models.GameStatusCanceled
	}
	return models.GameStatusScheduled
}
