// Package scoremetric derives percent, grade and ESD from raw scores using the
// per-game tables in gameconfig. Every function is synchronous and never
// touches the catalog.
package scoremetric

import (
	"log/slog"
	"math"

	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/gameconfig"
)

const (
	esdMaxSigma   = 200.0
	esdIterations = 60
)

// Library computes score metrics for every configured game.
type Library struct {
	cfg    *gameconfig.Config
	logger *slog.Logger
}

// New creates a Library over the given game tables.
func New(cfg *gameconfig.Config, logger *slog.Logger) *Library {
	return &Library{cfg: cfg, logger: logger}
}

// Config returns the game tables the library was built with.
func (l *Library) Config() *gameconfig.Config {
	return l.cfg
}

// PercentFromScore converts a raw score to a percent using the game's formula.
// Games whose formula depends on the chart's note count fail with an
// InternalError when chart is nil or has no note count.
func (l *Library) PercentFromScore(game domain.Game, score float64, chart *domain.Chart) (float64, error) {
	g, ok := l.cfg.Game(game)
	if !ok {
		return 0, domain.Internalf("no metric configuration for game %q", game)
	}

	switch g.Percent.Formula {
	case gameconfig.FormulaPercent:
		return score, nil
	case gameconfig.FormulaFixed:
		return score * 100 / g.Percent.Denominator, nil
	case gameconfig.FormulaNotes:
		if chart == nil {
			return 0, domain.Internalf("percent for %s requires a chart, none was supplied", game)
		}
		if chart.NoteCount <= 0 {
			return 0, domain.Internalf("chart %s has no notecount, cannot derive percent", chart.ID)
		}
		return score * 100 / (float64(chart.NoteCount) * g.Percent.PointsPerNote), nil
	default:
		return 0, domain.Internalf("game %s has unknown percent formula %q", game, g.Percent.Formula)
	}
}

// GradeFromPercent returns the highest grade whose boundary the percent meets.
func (l *Library) GradeFromPercent(game domain.Game, percent float64) (string, error) {
	g, ok := l.cfg.Game(game)
	if !ok {
		return "", domain.Internalf("no grade boundaries for game %q", game)
	}

	for i := len(g.Grades) - 1; i >= 0; i-- {
		if percent >= g.Grades[i].Percent {
			return g.Grades[i].Name, nil
		}
	}

	l.logger.Error("no grade boundary matched percent",
		"game", game,
		"percent", percent,
	)
	return "", domain.Internalf("percent %v matched no %s grade boundary", percent, game)
}

// ESD estimates the standard deviation, in milliseconds, of the player's hit
// timing that would produce the given percent. Hit offsets are modelled as
// normally distributed around zero and each judgement window contributes its
// value. The second result is false when the game or playtype has no window
// table.
func (l *Library) ESD(game domain.Game, playtype domain.Playtype, percent float64) (float64, bool) {
	g, ok := l.cfg.Game(game)
	if !ok {
		return 0, false
	}
	windows := g.Playtypes[playtype].Judgements
	if len(windows) == 0 {
		return 0, false
	}

	target := percent / 100
	if target >= expectedValue(windows, 0) {
		return 0, true
	}
	if target <= expectedValue(windows, esdMaxSigma) {
		return esdMaxSigma, true
	}

	lo, hi := 0.0, esdMaxSigma
	for range esdIterations {
		mid := (lo + hi) / 2
		if expectedValue(windows, mid) > target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return math.Round((lo+hi)/2*1000) / 1000, true
}

// expectedValue is the mean judgement value per note for a timing deviation
// of sigma ms. Windows are ascending, so each one only scores the band
// between it and the previous window.
func expectedValue(windows []gameconfig.Judgement, sigma float64) float64 {
	var total, inner float64
	for _, w := range windows {
		outer := withinWindow(w.WindowMS, sigma)
		total += (outer - inner) * w.Value
		inner = outer
	}
	return total
}

func withinWindow(window, sigma float64) float64 {
	if sigma == 0 {
		return 1
	}
	return math.Erf(window / (sigma * math.Sqrt2))
}
