package models

// Side is the offensive side of a half inning
type Side string

const (
	SideHome    Side = "home"
	SideAway    Side = "away"
	SideUnknown Side = "unknown"
)

// PlayByPlay is the normalized read model produced from one provider stats payload.
// It is built fresh per parse and never mutated afterwards.
type PlayByPlay struct {
	Format     string          `json:"format"`
	Innings    []Inning        `json:"innings"`
	LineScore  []TeamLineScore `json:"line_score,omitempty"`
	TotalPlays int             `json:"total_plays"`
}

type Inning struct {
	Number int    `json:"inning_number"`
	Halves []Half `json:"halves"`
}

type Half struct {
	Team    string       `json:"team"`
	Side    Side         `json:"side"`
	Plays   []Play       `json:"plays"`
	Summary *HalfSummary `json:"summary,omitempty"`
}

type HalfSummary struct {
	Runs       int `json:"runs"`
	Hits       int `json:"hits"`
	Errors     int `json:"errors"`
	LeftOnBase int `json:"left_on_base"`
}

type Play struct {
	Batter    *PlayerOutcome  `json:"batter"`
	Runners   []PlayerOutcome `json:"runners"`
	Narrative *string         `json:"narrative"`
}

type PlayerOutcome struct {
	Name              string `json:"name"`
	ExternalUniformID string `json:"external_uniform_id"`
	Out               bool   `json:"out"`
	Scored            bool   `json:"scored"`
	AdvancedToBase    int    `json:"advanced_to_base"`
}

// TeamLineScore is one team's row of the line score
type TeamLineScore struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Side       Side         `json:"side"`
	Innings    []InningRuns `json:"innings"`
	Runs       int          `json:"runs"`
	Hits       int          `json:"hits"`
	Errors     int          `json:"errors"`
	LeftOnBase int          `json:"left_on_base"`
}

// InningRuns holds runs for one inning. Marker is set ("X") instead of Runs
// when the game ended before the inning was played.
type InningRuns struct {
	Inning int    `json:"inning"`
	Runs   int    `json:"runs"`
	Marker string `json:"marker,omitempty"`
}

// NotPlayed reports whether the inning carries the not-played marker
func (r InningRuns) NotPlayed() bool {
	return r.Marker != ""
}
