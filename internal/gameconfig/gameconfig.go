// Package gameconfig holds the per-game tables the metric library and the
// converters depend on: playtypes and difficulties, percent formulas, grade
// boundaries, lamp vocabularies, hit-data allow-lists and judgement windows.
//
// The tables are parsed once from the embedded games.yaml into a [Config]
// that is passed explicitly to its consumers. A Config and everything it
// returns must be treated as read-only.
package gameconfig

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/score-import-etl/internal/domain"
)

//go:embed games.yaml
var embeddedGames []byte

// Formula selects how a raw score becomes a percent.
type Formula string

const (
	FormulaPercent Formula = "percent"
	FormulaFixed   Formula = "fixed"
	FormulaNotes   Formula = "notes"
)

// PercentRule describes the percent formula of a game.
type PercentRule struct {
	Formula       Formula `yaml:"formula"`
	Denominator   float64 `yaml:"denominator"`
	PointsPerNote float64 `yaml:"pointsPerNote"`
}

// Grade is one boundary of a game's grade table.
type Grade struct {
	Name    string  `yaml:"name"`
	Percent float64 `yaml:"percent"`
}

// Judgement is one timing window used for ESD.
type Judgement struct {
	Name     string  `yaml:"name"`
	WindowMS float64 `yaml:"windowMs"`
	Value    float64 `yaml:"value"`
}

// FieldRule constrains one numeric hit-data or hit-meta field.
type FieldRule struct {
	Min     *float64 `yaml:"min"`
	Max     *float64 `yaml:"max"`
	Integer bool     `yaml:"integer"`
}

// Check returns a description of the violation, or nil if v satisfies the rule.
func (r FieldRule) Check(v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return fmt.Errorf("expected a finite number, received %v", v)
	case r.Integer && v != math.Trunc(v):
		return fmt.Errorf("expected an integer, received %v", v)
	case r.Min != nil && v < *r.Min:
		return fmt.Errorf("expected a number >= %v, received %v", *r.Min, v)
	case r.Max != nil && v > *r.Max:
		return fmt.Errorf("expected a number <= %v, received %v", *r.Max, v)
	}
	return nil
}

// PlaytypeConfig lists the difficulties and judgement windows of one playtype.
type PlaytypeConfig struct {
	Difficulties []string    `yaml:"difficulties"`
	Judgements   []Judgement `yaml:"judgements"`
}

// Game is the configuration of one game.
type Game struct {
	ID         domain.Game                        `yaml:"-"`
	Name       string                             `yaml:"name"`
	Playtypes  map[domain.Playtype]PlaytypeConfig `yaml:"playtypes"`
	Versions   []string                           `yaml:"versions"`
	Percent    PercentRule                        `yaml:"percent"`
	PercentMax float64                            `yaml:"percentMax"`
	Grades     []Grade                            `yaml:"grades"`
	Lamps      []string                           `yaml:"lamps"`
	HitData    map[string]FieldRule               `yaml:"hitData"`
	HitMeta    map[string]FieldRule               `yaml:"hitMeta"`
}

// Config is the immutable set of game tables.
type Config struct {
	games map[domain.Game]*Game
}

type file struct {
	Games map[domain.Game]*Game `yaml:"games"`
}

// Load parses the embedded game tables.
func Load() (*Config, error) {
	return Parse(embeddedGames)
}

// Parse decodes and validates game tables from YAML.
func Parse(data []byte) (*Config, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse game config: %w", err)
	}
	if len(f.Games) == 0 {
		return nil, errors.New("game config defines no games")
	}
	for id, g := range f.Games {
		if g == nil {
			return nil, fmt.Errorf("game %q: empty definition", id)
		}
		g.ID = id
		if err := g.validate(); err != nil {
			return nil, fmt.Errorf("game %q: %w", id, err)
		}
	}
	return &Config{games: f.Games}, nil
}

func (g *Game) validate() error {
	if len(g.Playtypes) == 0 {
		return errors.New("no playtypes")
	}
	for pt, ptc := range g.Playtypes {
		if len(ptc.Difficulties) == 0 {
			return fmt.Errorf("playtype %s: no difficulties", pt)
		}
		if !sort.SliceIsSorted(ptc.Judgements, func(i, j int) bool {
			return ptc.Judgements[i].WindowMS < ptc.Judgements[j].WindowMS
		}) {
			return fmt.Errorf("playtype %s: judgement windows must be ascending", pt)
		}
	}
	switch g.Percent.Formula {
	case FormulaPercent:
	case FormulaFixed:
		if g.Percent.Denominator <= 0 {
			return errors.New("fixed percent formula needs a positive denominator")
		}
	case FormulaNotes:
		if g.Percent.PointsPerNote <= 0 {
			return errors.New("notes percent formula needs positive pointsPerNote")
		}
	default:
		return fmt.Errorf("unknown percent formula %q", g.Percent.Formula)
	}
	if g.PercentMax <= 0 {
		return errors.New("percentMax must be positive")
	}
	if len(g.Grades) == 0 || g.Grades[0].Percent != 0 {
		return errors.New("grade boundaries must start at 0")
	}
	for i := 1; i < len(g.Grades); i++ {
		if g.Grades[i].Percent <= g.Grades[i-1].Percent {
			return fmt.Errorf("grade %s: boundaries must be strictly ascending", g.Grades[i].Name)
		}
	}
	if len(g.Lamps) == 0 {
		return errors.New("no lamps")
	}
	return nil
}

// Game returns the configuration of a game.
func (c *Config) Game(id domain.Game) (*Game, bool) {
	g, ok := c.games[id]
	return g, ok
}

// Games lists the configured games in name order.
func (c *Config) Games() []domain.Game {
	ids := make([]domain.Game, 0, len(c.games))
	for id := range c.games {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// PlaytypeNames lists the game's playtypes in name order.
func (g *Game) PlaytypeNames() []domain.Playtype {
	pts := make([]domain.Playtype, 0, len(g.Playtypes))
	for pt := range g.Playtypes {
		pts = append(pts, pt)
	}
	slices.Sort(pts)
	return pts
}

// DefaultPlaytype returns the only playtype of single-playtype games.
func (g *Game) DefaultPlaytype() (domain.Playtype, bool) {
	if len(g.Playtypes) != 1 {
		return "", false
	}
	for pt := range g.Playtypes {
		return pt, true
	}
	return "", false
}

func (g *Game) HasPlaytype(pt domain.Playtype) bool {
	_, ok := g.Playtypes[pt]
	return ok
}

func (g *Game) HasDifficulty(pt domain.Playtype, difficulty string) bool {
	ptc, ok := g.Playtypes[pt]
	return ok && slices.Contains(ptc.Difficulties, difficulty)
}

func (g *Game) HasVersion(version string) bool {
	return slices.Contains(g.Versions, version)
}

// HasLamp reports whether lamp is one of the game's canonical lamps.
func (g *Game) HasLamp(lamp string) bool {
	return slices.Contains(g.Lamps, lamp)
}

// ScoreMax is the highest raw score of fixed-denominator games, or 0 when the
// maximum depends on the chart or the source reports percent directly.
func (g *Game) ScoreMax() float64 {
	if g.Percent.Formula != FormulaFixed {
		return 0
	}
	return g.Percent.Denominator * g.PercentMax / 100
}
