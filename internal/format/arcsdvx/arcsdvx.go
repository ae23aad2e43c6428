// Package arcsdvx implements score pages returned by the ARC vendor bridge
// for SOUND VOLTEX. A page is an object whose _items array holds one play
// record per chart:
//
//	{"_items": [{"_id": "...", "music_id": 1201, "music_difficulty": "EXHAUST",
//	             "clear_type": "HARD_CLEAR", "score": 9912345, "critical": 1700,
//	             "near": 20, "error": 3, "timestamp": "2024-05-01T12:00:00Z"}]}
//
// Charts are resolved by in-game music ID pinned to a game version.
package arcsdvx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/schema"
)

// OptionVersion overrides DefaultVersion.
const OptionVersion = "version"

// DefaultVersion is the game version the bridge serves unless told otherwise.
const DefaultVersion = "vivid"

const maxScore = 10_000_000

var difficulties = map[string]string{
	"NOVICE":   "NOV",
	"ADVANCED": "ADV",
	"EXHAUST":  "EXH",
	"INFINITE": "INF",
	"GRAVITY":  "GRV",
	"HEAVENLY": "HVN",
	"VIVID":    "VVD",
	"EXCEED":   "XCD",
	"MAXIMUM":  "MXM",
}

var lamps = format.LampTable{
	"FAILED":                 "FAILED",
	"CLEAR":                  "CLEAR",
	"HARD_CLEAR":             "EXCESSIVE CLEAR",
	"ULTIMATE_CHAIN":         "ULTIMATE CHAIN",
	"PERFECT_ULTIMATE_CHAIN": "PERFECT ULTIMATE CHAIN",
}

// Record is one entry of a page. Counters the bridge did not report are nil.
type Record struct {
	ID         string  `json:"_id"`
	MusicID    int     `json:"music_id"`
	Difficulty string  `json:"music_difficulty"`
	ClearType  string  `json:"clear_type"`
	Score      float64 `json:"score"`
	Critical   *int    `json:"critical,omitempty"`
	Near       *int    `json:"near,omitempty"`
	Error      *int    `json:"error,omitempty"`
	MaxChain   *int    `json:"max_chain,omitempty"`
	EXScore    *int    `json:"ex_score,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
}

type page struct {
	Items []Record `json:"_items"`
}

// Parser parses ARC SDVX pages.
type Parser struct {
	kit     *format.Kit
	schemas *schema.Validator
	conv    *Converter
}

// New creates a Parser checking pages against the #ARCPage schema.
func New(kit *format.Kit, schemas *schema.Validator) *Parser {
	return &Parser{kit: kit, schemas: schemas, conv: NewConverter(kit)}
}

func (p *Parser) ImportType() domain.ImportType { return domain.ImportARCSDVX }

func (p *Parser) Parse(_ context.Context, payload []byte, meta format.RequestMeta) (*format.Submission, error) {
	g, err := p.kit.Game(domain.GameSDVX)
	if err != nil {
		return nil, err
	}

	version := DefaultVersion
	if v := meta.Option(OptionVersion); v != "" {
		if !g.HasVersion(v) {
			return nil, domain.BadRequestf("invalid version option: expected one of %v, received %q", g.Versions, v)
		}
		version = v
	}

	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, domain.BadRequestf("invalid JSON: %v", err)
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, domain.BadRequestf("invalid page: expected an object, received %s", format.Describe(raw))
	}
	if err := p.schemas.Validate(schema.ARCPage, payload); err != nil {
		var schemaErr *schema.Error
		if errors.As(err, &schemaErr) {
			return nil, domain.BadRequestf("invalid page: %s", schemaErr.Reason)
		}
		return nil, domain.Internalf("arc page schema: %w", err)
	}

	var pg page
	if err := json.Unmarshal(payload, &pg); err != nil {
		return nil, domain.BadRequestf("invalid page: %v", err)
	}

	ictx := domain.ImportContext{
		ImportType: domain.ImportARCSDVX,
		Game:       domain.GameSDVX,
		Service:    "ARC",
		Version:    version,
		Playtype:   domain.PlaytypeSingle,
	}
	return format.NewSubmission(ictx, pg.Items, p.conv), nil
}

// Converter converts ARC SDVX records.
type Converter struct {
	kit *format.Kit
}

// NewConverter creates a Converter over kit.
func NewConverter(kit *format.Kit) *Converter {
	return &Converter{kit: kit}
}

func (c *Converter) Convert(ctx context.Context, rec Record, ictx domain.ImportContext) (domain.DryScore, error) {
	diff, ok := difficulties[rec.Difficulty]
	if !ok {
		return domain.DryScore{}, domain.InvalidScoref("unknown music_difficulty %q", rec.Difficulty)
	}

	in := format.ScoreInput{
		Score:      rec.Score,
		Lamp:       rec.ClearType,
		Judgements: map[string]int{},
		HitMeta:    map[string]float64{},
	}
	setCount(in.Judgements, "critical", rec.Critical)
	setCount(in.Judgements, "near", rec.Near)
	setCount(in.Judgements, "miss", rec.Error)
	if rec.MaxChain != nil {
		in.HitMeta["maxCombo"] = float64(*rec.MaxChain)
	}
	if rec.EXScore != nil {
		in.HitMeta["exScore"] = float64(*rec.EXScore)
	}
	if rec.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			return domain.DryScore{}, domain.InvalidScoref("invalid timestamp %q: expected RFC 3339", rec.Timestamp)
		}
		t = t.UTC()
		in.TimeAchieved = &t
	}
	if rec.ID != "" {
		in.ScoreMeta = map[string]any{"arcID": rec.ID}
	}

	res, err := c.kit.Resolve(ctx, ictx, rec, format.ByInGameID{
		InGameID:   rec.MusicID,
		Playtype:   domain.PlaytypeSingle,
		Difficulty: diff,
		Version:    ictx.Version,
	})
	if err != nil {
		return domain.DryScore{}, err
	}

	return c.kit.Assemble(ictx, res, in, lamps, func(d format.Derived) error {
		return checkPerfect(d, rec)
	})
}

// checkPerfect rejects a PERFECT ULTIMATE CHAIN that is not a perfect score.
func checkPerfect(d format.Derived, rec Record) error {
	if d.Lamp != "PERFECT ULTIMATE CHAIN" {
		return nil
	}
	if rec.Score != maxScore {
		return domain.InvalidScoref("lamp is PERFECT ULTIMATE CHAIN but score is %.0f, expected %d", rec.Score, maxScore)
	}
	if rec.Near != nil && *rec.Near != 0 {
		return domain.InvalidScoref("lamp is PERFECT ULTIMATE CHAIN but near is %d, expected 0", *rec.Near)
	}
	if rec.Error != nil && *rec.Error != 0 {
		return domain.InvalidScoref("lamp is PERFECT ULTIMATE CHAIN but error is %d, expected 0", *rec.Error)
	}
	return nil
}

func setCount(m map[string]int, name string, v *int) {
	if v != nil {
		m[name] = *v
	}
}

