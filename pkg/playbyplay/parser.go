// Package playbyplay normalizes provider play-by-play and line score markup.
// Parsing is pure: no I/O and no shared state, so it is safe for concurrent use.
package playbyplay

import (
	"strings"

	"github.com/iddaa-lens/statsync/pkg/models"
)

// DefaultFormat is used when the plays element carries no format attribute
const DefaultFormat = "summary"

// Parse converts one stats payload into a PlayByPlay. It returns nil when the
// input is empty or has no plays section, which is normal for games without
// play-by-play coverage. The line score is attached when present.
func Parse(raw string) *models.PlayByPlay {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	root := parseTree(raw)
	plays := root.find("plays")
	if plays == nil {
		return nil
	}

	pbp := &models.PlayByPlay{
		Format:  plays.attr("format"),
		Innings: []models.Inning{},
	}
	if pbp.Format == "" {
		pbp.Format = DefaultFormat
	}

	for _, inn := range plays.findAll("inning") {
		inning := parseInning(inn)
		for _, h := range inning.Halves {
			pbp.TotalPlays += len(h.Plays)
		}
		pbp.Innings = append(pbp.Innings, inning)
	}

	pbp.LineScore = lineScoreFromTree(root)
	return pbp
}

func parseInning(n *node) models.Inning {
	inning := models.Inning{
		Number: n.intAttr("number", "inning"),
		Halves: []models.Half{},
	}

	// batting sections and inning-level summaries are handled in document
	// order so a sibling summary lands on the half that precedes it
	var walk func(*node)
	walk = func(cur *node) {
		for _, c := range cur.children {
			switch c.name {
			case "batting":
				inning.Halves = append(inning.Halves, parseHalf(c))
			case "innsummary":
				attachSiblingSummary(inning.Halves, parseSummary(c))
			case "inning":
				// nested inning elements are malformed; ignore them
			default:
				walk(c)
			}
		}
	}
	walk(n)

	return inning
}

// attachSiblingSummary gives s to the most recent half that has no summary yet
func attachSiblingSummary(halves []models.Half, s *models.HalfSummary) {
	for i := len(halves) - 1; i >= 0; i-- {
		if halves[i].Summary == nil {
			halves[i].Summary = s
			return
		}
	}
}

func parseHalf(n *node) models.Half {
	half := models.Half{
		Team:  n.attr("id", "name", "team"),
		Side:  sideFromCode(n.attr("vh")),
		Plays: []models.Play{},
	}

	for _, p := range n.findAll("play") {
		half.Plays = append(half.Plays, parsePlay(p))
	}

	if s := n.find("innsummary"); s != nil {
		half.Summary = parseSummary(s)
	}
	return half
}

func parsePlay(n *node) models.Play {
	play := models.Play{Runners: []models.PlayerOutcome{}}

	if b := n.find("batter"); b != nil {
		batter := parseOutcome(b)
		play.Batter = &batter
	}
	for _, r := range n.findAll("runner") {
		play.Runners = append(play.Runners, parseOutcome(r))
	}
	if nar := n.find("narrative"); nar != nil {
		text := nar.attr("text")
		if text == "" {
			text = nar.innerText()
		}
		if text != "" {
			play.Narrative = &text
		}
	}
	return play
}

func parseOutcome(n *node) models.PlayerOutcome {
	return models.PlayerOutcome{
		Name:              n.attr("name"),
		ExternalUniformID: n.attr("uni", "uniform"),
		Out:               n.flagAttr("out"),
		Scored:            n.flagAttr("scored"),
		AdvancedToBase:    n.intAttr("tobase", "adv"),
	}
}

func parseSummary(n *node) *models.HalfSummary {
	return &models.HalfSummary{
		Runs:       n.intAttr("r", "runs"),
		Hits:       n.intAttr("h", "hits"),
		Errors:     n.intAttr("e", "errs", "errors"),
		LeftOnBase: n.intAttr("lob"),
	}
}

func sideFromCode(code string) models.Side {
	switch strings.ToUpper(code) {
	case "H":
		return models.SideHome
	case "V", "A":
		return models.SideAway
	}
	return models.SideUnknown
}
