package format

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/score-import-etl/internal/catalog"
	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/gameconfig"
	"github.com/couchcryptid/score-import-etl/internal/scoremetric"
)

// Kit is the conversion machinery shared by every converter: chart
// resolution, metric derivation, lamp normalization and final assembly.
type Kit struct {
	catalog catalog.Catalog
	metrics *scoremetric.Library
	games   *gameconfig.Config
}

// NewKit creates a Kit over a catalog and a metric library.
func NewKit(cat catalog.Catalog, lib *scoremetric.Library) *Kit {
	return &Kit{catalog: cat, metrics: lib, games: lib.Config()}
}

// Games returns the game tables the kit converts against.
func (k *Kit) Games() *gameconfig.Config {
	return k.games
}

// Game returns the configuration of a game. A game without configuration
// reaching a converter is a wiring bug.
func (k *Kit) Game(game domain.Game) (*gameconfig.Game, error) {
	g, ok := k.games.Game(game)
	if !ok {
		return nil, domain.Internalf("no configuration for game %q", game)
	}
	return g, nil
}

// Identity selects how a record's chart is resolved. It is one of ByTitle,
// BySongID, ByHash or ByInGameID.
type Identity interface {
	identity()
}

// ByTitle resolves a song by title or alternate title, then its chart.
type ByTitle struct {
	Title      string
	Mode       catalog.TitleMode
	Playtype   domain.Playtype
	Difficulty string
}

// BySongID resolves a song by catalog ID, then its chart.
type BySongID struct {
	SongID     int
	Playtype   domain.Playtype
	Difficulty string
}

// ByHash resolves a chart by the hash of its file, then its song.
type ByHash struct {
	Hash string
}

// ByInGameID resolves a chart by the game's own music ID. When Version is
// set only a chart present in that version matches.
type ByInGameID struct {
	InGameID   int
	Playtype   domain.Playtype
	Difficulty string
	Version    string
}

func (ByTitle) identity()    {}
func (BySongID) identity()   {}
func (ByHash) identity()     {}
func (ByInGameID) identity() {}

// Resolved is a chart together with its parent song.
type Resolved struct {
	Song  *domain.Song
	Chart *domain.Chart
}

// Resolve finds the song and chart a record refers to. record is only used
// to populate DataNotFound failures.
func (k *Kit) Resolve(ctx context.Context, ictx domain.ImportContext, record any, id Identity) (Resolved, error) {
	switch id := id.(type) {
	case ByTitle:
		if strings.TrimSpace(id.Title) == "" {
			return Resolved{}, domain.InvalidScoref("title match requires a non-empty title")
		}
		if err := k.checkChartSlot(ictx.Game, id.Playtype, id.Difficulty); err != nil {
			return Resolved{}, err
		}
		song, err := k.catalog.SongByTitle(ctx, ictx.Game, id.Title, id.Mode)
		if err != nil {
			return Resolved{}, domain.Internalf("song lookup by title: %w", err)
		}
		if song == nil {
			return Resolved{}, domain.NewDataNotFound(ictx, record, "no %s song titled %q", ictx.Game, id.Title)
		}
		return k.chartForSong(ctx, ictx, record, song, id.Playtype, id.Difficulty)

	case BySongID:
		if err := k.checkChartSlot(ictx.Game, id.Playtype, id.Difficulty); err != nil {
			return Resolved{}, err
		}
		song, err := k.catalog.SongByID(ctx, ictx.Game, id.SongID)
		if err != nil {
			return Resolved{}, domain.Internalf("song lookup by id: %w", err)
		}
		if song == nil {
			return Resolved{}, domain.NewDataNotFound(ictx, record, "no %s song with id %d", ictx.Game, id.SongID)
		}
		return k.chartForSong(ctx, ictx, record, song, id.Playtype, id.Difficulty)

	case ByHash:
		if strings.TrimSpace(id.Hash) == "" {
			return Resolved{}, domain.InvalidScoref("hash match requires a non-empty hash")
		}
		chart, err := k.catalog.ChartByHash(ctx, ictx.Game, id.Hash)
		if err != nil {
			return Resolved{}, domain.Internalf("chart lookup by hash: %w", err)
		}
		if chart == nil {
			return Resolved{}, domain.NewDataNotFound(ictx, record, "no %s chart with hash %q", ictx.Game, id.Hash)
		}
		return k.songForChart(ctx, ictx, chart)

	case ByInGameID:
		if err := k.checkChartSlot(ictx.Game, id.Playtype, id.Difficulty); err != nil {
			return Resolved{}, err
		}
		var (
			chart *domain.Chart
			err   error
		)
		if id.Version != "" {
			chart, err = k.catalog.ChartByInGameIDVersion(ctx, ictx.Game, id.InGameID, id.Playtype, id.Difficulty, id.Version)
		} else {
			chart, err = k.catalog.PrimaryChartByInGameID(ctx, ictx.Game, id.InGameID, id.Playtype, id.Difficulty)
		}
		if err != nil {
			return Resolved{}, domain.Internalf("chart lookup by in-game id: %w", err)
		}
		if chart == nil {
			if id.Version != "" {
				return Resolved{}, domain.NewDataNotFound(ictx, record,
					"no %s %s %s chart with in-game id %d in version %s",
					ictx.Game, id.Playtype, id.Difficulty, id.InGameID, id.Version)
			}
			return Resolved{}, domain.NewDataNotFound(ictx, record,
				"no %s %s %s chart with in-game id %d", ictx.Game, id.Playtype, id.Difficulty, id.InGameID)
		}
		return k.songForChart(ctx, ictx, chart)

	case nil:
		return Resolved{}, domain.Internalf("no identity supplied")
	default:
		return Resolved{}, domain.Internalf("unsupported identity %T", id)
	}
}

// chartForSong returns the song's chart pinned to the submission's version.
// The primary chart is used only when the submission names no version: a
// version without a matching chart means the record is for a different chart
// entirely.
func (k *Kit) chartForSong(ctx context.Context, ictx domain.ImportContext, record any, song *domain.Song, pt domain.Playtype, difficulty string) (Resolved, error) {
	if ictx.Version != "" {
		chart, err := k.catalog.ChartByVersion(ctx, ictx.Game, song.ID, pt, difficulty, ictx.Version)
		if err != nil {
			return Resolved{}, domain.Internalf("chart lookup by version: %w", err)
		}
		if chart == nil {
			return Resolved{}, domain.NewDataNotFound(ictx, record,
				"song %d (%s) has no %s %s chart in version %s", song.ID, song.Title, pt, difficulty, ictx.Version)
		}
		return Resolved{Song: song, Chart: chart}, nil
	}

	chart, err := k.catalog.PrimaryChart(ctx, ictx.Game, song.ID, pt, difficulty)
	if err != nil {
		return Resolved{}, domain.Internalf("primary chart lookup: %w", err)
	}
	if chart == nil {
		return Resolved{}, domain.NewDataNotFound(ictx, record,
			"song %d (%s) has no %s %s chart", song.ID, song.Title, pt, difficulty)
	}
	return Resolved{Song: song, Chart: chart}, nil
}

func (k *Kit) songForChart(ctx context.Context, ictx domain.ImportContext, chart *domain.Chart) (Resolved, error) {
	song, err := k.catalog.SongByID(ctx, ictx.Game, chart.SongID)
	if err != nil {
		return Resolved{}, domain.Internalf("song lookup for chart %s: %w", chart.ID, err)
	}
	if song == nil {
		return Resolved{}, domain.Internalf("chart %s belongs to song %d, which does not exist", chart.ID, chart.SongID)
	}
	return Resolved{Song: song, Chart: chart}, nil
}

func (k *Kit) checkChartSlot(game domain.Game, pt domain.Playtype, difficulty string) error {
	g, err := k.Game(game)
	if err != nil {
		return err
	}
	switch {
	case pt == "":
		return domain.InvalidScoref("playtype is required for this match type")
	case difficulty == "":
		return domain.InvalidScoref("difficulty is required for this match type")
	case !g.HasPlaytype(pt):
		return domain.InvalidScoref("invalid playtype %q for %s, expected one of %v", pt, game, g.PlaytypeNames())
	case !g.HasDifficulty(pt, difficulty):
		return domain.InvalidScoref("invalid difficulty %q for %s %s, expected one of %v",
			difficulty, game, pt, g.Playtypes[pt].Difficulties)
	}
	return nil
}

// LampTable maps a source's lamp vocabulary to the canonical one.
type LampTable map[string]string

// IdentityLamps accepts exactly the game's canonical lamps.
func IdentityLamps(g *gameconfig.Game) LampTable {
	t := make(LampTable, len(g.Lamps))
	for _, l := range g.Lamps {
		t[l] = l
	}
	return t
}

// Normalize maps a source token to its canonical lamp.
func (t LampTable) Normalize(token string) (string, error) {
	if lamp, ok := t[token]; ok {
		return lamp, nil
	}
	return "", domain.InvalidScoref("unknown lamp %q, expected one of %v", token, slices.Sorted(maps.Keys(t)))
}

// Derived is what Assemble has computed by the time cross-field checks run.
type Derived struct {
	Percent float64
	Grade   string
	Lamp    string
}

// Check is a source-specific cross-field rule. It returns an
// InvalidScoreError naming both sides of the failed comparison.
type Check func(d Derived) error

// ScoreInput is a record's score data before derivation. Judgements and
// HitMeta only hold fields the source reported.
type ScoreInput struct {
	Score        float64
	Lamp         string
	Judgements   map[string]int
	HitMeta      map[string]float64
	TimeAchieved *time.Time
	Comment      string
	ScoreMeta    map[string]any
}

// Assemble derives percent, grade, lamp and ESD for a resolved chart, runs
// the checks and builds the canonical score.
func (k *Kit) Assemble(ictx domain.ImportContext, res Resolved, in ScoreInput, lamps LampTable, checks ...Check) (domain.DryScore, error) {
	if res.Song == nil || res.Chart == nil {
		return domain.DryScore{}, domain.Internalf("assemble called without a resolved song and chart")
	}
	g, err := k.Game(ictx.Game)
	if err != nil {
		return domain.DryScore{}, err
	}

	if maxScore := g.ScoreMax(); maxScore > 0 && (in.Score < 0 || in.Score > maxScore) {
		return domain.DryScore{}, domain.InvalidScoref("score %s is outside [0, %s] for %s",
			strconv.FormatFloat(in.Score, 'f', -1, 64), strconv.FormatFloat(maxScore, 'f', -1, 64), ictx.Game)
	}

	percent, err := k.metrics.PercentFromScore(ictx.Game, in.Score, res.Chart)
	if err != nil {
		return domain.DryScore{}, err
	}
	if percent > g.PercentMax || percent < 0 {
		return domain.DryScore{}, domain.InvalidScoref(
			"score %s gives percent %.4f, outside [0, %v] for %s", strconv.FormatFloat(in.Score, 'f', -1, 64), percent, g.PercentMax, ictx.Game)
	}

	grade, err := k.metrics.GradeFromPercent(ictx.Game, percent)
	if err != nil {
		return domain.DryScore{}, err
	}

	lamp, err := lamps.Normalize(in.Lamp)
	if err != nil {
		return domain.DryScore{}, err
	}
	if !g.HasLamp(lamp) {
		return domain.DryScore{}, domain.Internalf("lamp %q maps to %q, which %s does not define", in.Lamp, lamp, ictx.Game)
	}

	if err := ValidateHitData(g, in.Judgements, in.HitMeta); err != nil {
		return domain.DryScore{}, err
	}

	d := Derived{Percent: percent, Grade: grade, Lamp: lamp}
	for _, check := range checks {
		if err := check(d); err != nil {
			return domain.DryScore{}, err
		}
	}

	data := domain.ScoreData{
		Score:      in.Score,
		Percent:    percent,
		Grade:      grade,
		Lamp:       lamp,
		Judgements: cloneOrEmpty(in.Judgements),
		HitMeta:    cloneOrEmpty(in.HitMeta),
	}
	if esd, ok := k.metrics.ESD(ictx.Game, res.Chart.Playtype, percent); ok {
		data.ESD = &esd
	}

	var achieved *time.Time
	if in.TimeAchieved != nil {
		t := *in.TimeAchieved
		achieved = &t
	}

	return domain.DryScore{
		Game:         ictx.Game,
		Service:      ictx.Service,
		ImportType:   ictx.ImportType,
		Comment:      in.Comment,
		TimeAchieved: achieved,
		SongID:       res.Song.ID,
		ChartID:      res.Chart.ID,
		Playtype:     res.Chart.Playtype,
		Difficulty:   res.Chart.Difficulty,
		ScoreData:    data,
		ScoreMeta:    cloneOrEmpty(in.ScoreMeta),
	}, nil
}

// ValidateHitData checks reported hit counts and hit meta against the game's
// allow-lists and numeric rules.
func ValidateHitData(g *gameconfig.Game, judgements map[string]int, hitMeta map[string]float64) error {
	for _, name := range slices.Sorted(maps.Keys(judgements)) {
		rule, ok := g.HitData[name]
		if !ok {
			return domain.InvalidScoref("unknown hitData field %q for %s, expected one of %v",
				name, g.ID, slices.Sorted(maps.Keys(g.HitData)))
		}
		if err := rule.Check(float64(judgements[name])); err != nil {
			return domain.InvalidScoref("hitData.%s: %v", name, err)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(hitMeta)) {
		rule, ok := g.HitMeta[name]
		if !ok {
			return domain.InvalidScoref("unknown hitMeta field %q for %s, expected one of %v",
				name, g.ID, slices.Sorted(maps.Keys(g.HitMeta)))
		}
		if err := rule.Check(hitMeta[name]); err != nil {
			return domain.InvalidScoref("hitMeta.%s: %v", name, err)
		}
	}
	return nil
}

func cloneOrEmpty[M ~map[K]V, K comparable, V any](m M) M {
	if m == nil {
		return make(M)
	}
	return maps.Clone(m)
}
