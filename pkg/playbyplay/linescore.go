package playbyplay

import (
	"strings"

	"github.com/iddaa-lens/statsync/pkg/models"
)

// NotPlayedMarker stands in for runs of an inning that was never played
const NotPlayedMarker = "X"

// ParseLineScore extracts per-team line scores. It works on payloads without
// play-by-play and returns nil when no team carries a linescore block.
func ParseLineScore(raw string) []models.TeamLineScore {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return lineScoreFromTree(parseTree(raw))
}

func lineScoreFromTree(root *node) []models.TeamLineScore {
	var out []models.TeamLineScore
	for _, team := range root.findAll("team") {
		ls := team.find("linescore")
		if ls == nil {
			continue
		}

		row := models.TeamLineScore{
			ID:         team.attr("id"),
			Name:       team.attr("name"),
			Side:       sideFromCode(team.attr("vh")),
			Innings:    []models.InningRuns{},
			Runs:       ls.intAttr("runs", "r"),
			Hits:       ls.intAttr("hits", "h"),
			Errors:     ls.intAttr("errs", "errors", "e"),
			LeftOnBase: ls.intAttr("lob"),
		}

		for _, inn := range ls.findAll("lineinn") {
			runs := models.InningRuns{Inning: inn.intAttr("inn", "inning")}
			score := inn.attr("score", "runs")
			if strings.EqualFold(score, NotPlayedMarker) {
				runs.Marker = NotPlayedMarker
			} else {
				runs.Runs = toInt(score)
			}
			row.Innings = append(row.Innings, runs)
		}

		out = append(out, row)
	}
	return out
}
