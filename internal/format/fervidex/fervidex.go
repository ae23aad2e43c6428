// Package fervidex implements the IR submission sent by the fervidex client
// after each IIDX play. One request carries one score; the game version is
// derived from the client's X-Software-Model header.
package fervidex

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/schema"
)

// HeaderSoftwareModel carries the cabinet software model, e.g.
// "LDJ:J:B:A:2020092900" or "P2D:J:B:A:2023101800" for INFINITAS.
const HeaderSoftwareModel = "X-Software-Model"

type chartSlot struct {
	playtype   domain.Playtype
	difficulty string
}

var charts = map[string]chartSlot{
	"spb": {domain.PlaytypeSP, "BEGINNER"},
	"spn": {domain.PlaytypeSP, "NORMAL"},
	"sph": {domain.PlaytypeSP, "HYPER"},
	"spa": {domain.PlaytypeSP, "ANOTHER"},
	"spl": {domain.PlaytypeSP, "LEGGENDARIA"},
	"dpn": {domain.PlaytypeDP, "NORMAL"},
	"dph": {domain.PlaytypeDP, "HYPER"},
	"dpa": {domain.PlaytypeDP, "ANOTHER"},
	"dpl": {domain.PlaytypeDP, "LEGGENDARIA"},
}

var clearTypes = []string{
	"NO PLAY",
	"FAILED",
	"ASSIST CLEAR",
	"EASY CLEAR",
	"CLEAR",
	"HARD CLEAR",
	"EX HARD CLEAR",
	"FULL COMBO",
}

var lamps = func() format.LampTable {
	t := make(format.LampTable, len(clearTypes))
	for _, l := range clearTypes {
		t[l] = l
	}
	return t
}()

// Options is the play option sub-object. Unset options are nil.
type Options struct {
	Gauge   *string `json:"gauge,omitempty"`
	Range   *string `json:"range,omitempty"`
	Style   *string `json:"style,omitempty"`
	Style2P *string `json:"style_2p,omitempty"`
	Assist  *string `json:"assist,omitempty"`
}

// Record is a fervidex score body. The schema guarantees every required
// counter is present and non-negative.
type Record struct {
	Chart     string   `json:"chart"`
	EntryID   int      `json:"entry_id"`
	PGreat    int      `json:"pgreat"`
	Great     int      `json:"great"`
	Good      int      `json:"good"`
	Bad       int      `json:"bad"`
	Poor      int      `json:"poor"`
	Fast      *int     `json:"fast,omitempty"`
	Slow      *int     `json:"slow,omitempty"`
	MaxCombo  *int     `json:"max_combo,omitempty"`
	EXScore   int      `json:"ex_score"`
	ClearType int      `json:"clear_type"`
	Gauge     []int    `json:"gauge,omitempty"`
	Option    *Options `json:"option,omitempty"`
}

// Parser parses fervidex submissions.
type Parser struct {
	kit     *format.Kit
	schemas *schema.Validator
	conv    *Converter
}

// New creates a Parser that checks bodies against schemas.
func New(kit *format.Kit, schemas *schema.Validator) *Parser {
	return &Parser{kit: kit, schemas: schemas, conv: NewConverter(kit)}
}

func (p *Parser) ImportType() domain.ImportType { return domain.ImportFervidex }

func (p *Parser) Parse(_ context.Context, payload []byte, meta format.RequestMeta) (*format.Submission, error) {
	model := meta.HeaderValue(HeaderSoftwareModel)
	version, err := VersionForModel(model)
	if err != nil {
		return nil, err
	}
	g, err := p.kit.Game(domain.GameIIDX)
	if err != nil {
		return nil, err
	}
	if !g.HasVersion(version) {
		return nil, domain.Internalf("software model %s maps to version %s, which iidx does not configure", model, version)
	}

	if err := p.schemas.Validate(schema.Fervidex, payload); err != nil {
		var schemaErr *schema.Error
		if errors.As(err, &schemaErr) {
			return nil, domain.BadRequestf("invalid fervidex body: %s", schemaErr.Reason)
		}
		return nil, domain.Internalf("fervidex schema: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, domain.BadRequestf("invalid fervidex body: %v", err)
	}

	ictx := domain.ImportContext{
		ImportType:    domain.ImportFervidex,
		Game:          domain.GameIIDX,
		Service:       "Fervidex",
		Version:       version,
		SoftwareModel: model,
	}
	return format.NewSubmission(ictx, []Record{rec}, p.conv), nil
}

// Converter converts fervidex records.
type Converter struct {
	kit *format.Kit
}

// NewConverter creates a Converter over kit.
func NewConverter(kit *format.Kit) *Converter {
	return &Converter{kit: kit}
}

func (c *Converter) Convert(ctx context.Context, rec Record, ictx domain.ImportContext) (domain.DryScore, error) {
	slot, ok := charts[rec.Chart]
	if !ok {
		return domain.DryScore{}, domain.InvalidScoref("unknown chart %q", rec.Chart)
	}
	if rec.ClearType < 0 || rec.ClearType >= len(clearTypes) {
		return domain.DryScore{}, domain.InvalidScoref("clear_type %d is outside [0, %d]", rec.ClearType, len(clearTypes)-1)
	}

	in := format.ScoreInput{
		Score: float64(rec.EXScore),
		Lamp:  clearTypes[rec.ClearType],
		Judgements: map[string]int{
			"pgreat": rec.PGreat,
			"great":  rec.Great,
			"good":   rec.Good,
			"bad":    rec.Bad,
			"poor":   rec.Poor,
		},
		HitMeta: map[string]float64{
			"bp": float64(rec.Bad + rec.Poor),
		},
		ScoreMeta: scoreMeta(rec.Option),
	}
	if rec.Fast != nil {
		in.HitMeta["fast"] = float64(*rec.Fast)
	}
	if rec.Slow != nil {
		in.HitMeta["slow"] = float64(*rec.Slow)
	}
	if rec.MaxCombo != nil {
		in.HitMeta["maxCombo"] = float64(*rec.MaxCombo)
	}
	if len(rec.Gauge) > 0 {
		in.HitMeta["gauge"] = float64(rec.Gauge[len(rec.Gauge)-1])
	}

	res, err := c.kit.Resolve(ctx, ictx, rec, format.ByInGameID{
		InGameID:   rec.EntryID,
		Playtype:   slot.playtype,
		Difficulty: slot.difficulty,
		Version:    ictx.Version,
	})
	if err != nil {
		return domain.DryScore{}, err
	}

	return c.kit.Assemble(ictx, res, in, lamps, func(format.Derived) error {
		if got := rec.PGreat*2 + rec.Great; got != rec.EXScore {
			return domain.InvalidScoref("pgreat*2 + great is %d (%d*2 + %d), but ex_score is %d",
				got, rec.PGreat, rec.Great, rec.EXScore)
		}
		return nil
	})
}

func scoreMeta(opt *Options) map[string]any {
	meta := map[string]any{}
	if opt == nil {
		return meta
	}
	set := func(key string, v *string) {
		if v != nil {
			meta[key] = *v
		}
	}
	set("gauge", opt.Gauge)
	set("range", opt.Range)
	set("random", opt.Style)
	set("random2P", opt.Style2P)
	set("assist", opt.Assist)
	return meta
}
