// Package batchmanual implements the generic batch envelope accepted both as
// an uploaded file and as a direct IR submission:
//
//	{
//	  "head": {"service": "...", "game": "iidx", "version": "31"},
//	  "body": [{"score": 1800, "lamp": "HARD CLEAR", "matchType": "songTitle",
//	            "identifier": "5.1.1.", "playtype": "SP", "difficulty": "ANOTHER"}]
//	}
//
// The whole envelope, records included, is checked against the #BatchManual
// schema before any record is converted. Structural defects are fatal; rule
// violations found while converting (unknown lamp, missing chart) only fail
// their record.
package batchmanual

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/couchcryptid/score-import-etl/internal/catalog"
	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/gameconfig"
	"github.com/couchcryptid/score-import-etl/internal/schema"
)

// MatchType names how a record identifies its chart.
type MatchType string

const (
	MatchSongTitle MatchType = "songTitle"
	MatchSongID    MatchType = "songID"
	MatchHash      MatchType = "hash"
	MatchInGameID  MatchType = "inGameID"
)

const (
	serviceMinLen = 3
	serviceMaxLen = 15
)

// Record is one entry of the envelope body.
type Record struct {
	Score        float64            `json:"score"`
	Lamp         string             `json:"lamp"`
	MatchType    MatchType          `json:"matchType"`
	Identifier   string             `json:"identifier"`
	Playtype     domain.Playtype    `json:"playtype,omitempty"`
	Difficulty   string             `json:"difficulty,omitempty"`
	Comment      string             `json:"comment,omitempty"`
	TimeAchieved *int64             `json:"timeAchieved,omitempty"`
	HitData      map[string]int     `json:"hitData,omitempty"`
	HitMeta      map[string]float64 `json:"hitMeta,omitempty"`
}

type head struct {
	Service string      `json:"service"`
	Game    domain.Game `json:"game"`
	Version string      `json:"version"`
}

type envelope struct {
	Head head     `json:"head"`
	Body []Record `json:"body"`
}

// Parser parses batch envelopes for one import type.
type Parser struct {
	importType domain.ImportType
	kit        *format.Kit
	schemas    *schema.Validator
	conv       *Converter
}

// New creates a Parser registered under importType, normally
// file/batch-manual or ir/direct-manual. The game tables' hit-data
// allow-lists are filled into schemas.
func New(importType domain.ImportType, kit *format.Kit, schemas *schema.Validator) (*Parser, error) {
	if err := schemas.Fill("#HitFields", HitFields(kit.Games())); err != nil {
		return nil, fmt.Errorf("batch-manual hit fields: %w", err)
	}
	return &Parser{importType: importType, kit: kit, schemas: schemas, conv: &Converter{kit: kit}}, nil
}

func (p *Parser) ImportType() domain.ImportType { return p.importType }

func (p *Parser) Parse(_ context.Context, payload []byte, _ format.RequestMeta) (*format.Submission, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, domain.BadRequestf("invalid JSON: %v", err)
	}
	root, ok := raw.(map[string]any)
	if !ok {
		return nil, domain.BadRequestf("invalid payload: expected an object, received %s", format.Describe(raw))
	}
	if err := p.checkHead(root["head"]); err != nil {
		return nil, err
	}

	if err := p.schemas.Validate(schema.BatchManual, payload); err != nil {
		var schemaErr *schema.Error
		if errors.As(err, &schemaErr) {
			return nil, domain.BadRequestf("invalid envelope: %s", schemaErr.Reason)
		}
		return nil, domain.Internalf("batch-manual schema: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, domain.BadRequestf("invalid envelope: %v", err)
	}

	ictx := domain.ImportContext{
		ImportType: p.importType,
		Game:       env.Head.Game,
		Service:    env.Head.Service,
		Version:    env.Head.Version,
	}
	return format.NewSubmission(ictx, env.Body, p.conv), nil
}

// checkHead reports head defects with the received value, and decides the
// game whose allow-lists the schema applies to the body.
func (p *Parser) checkHead(v any) error {
	h, ok := v.(map[string]any)
	if !ok {
		return domain.BadRequestf("invalid head: expected an object, received %s", format.Describe(v))
	}

	service, ok := h["service"].(string)
	if n := utf8.RuneCountInString(service); !ok || n < serviceMinLen || n > serviceMaxLen {
		return domain.BadRequestf("invalid head.service: expected a string of %d to %d characters, received %s",
			serviceMinLen, serviceMaxLen, format.Describe(h["service"]))
	}

	gameName, ok := h["game"].(string)
	g, known := p.kit.Games().Game(domain.Game(gameName))
	if !ok || !known {
		return domain.BadRequestf("invalid head.game: expected one of %v, received %s",
			p.kit.Games().Games(), format.Describe(h["game"]))
	}

	if rawVersion, present := h["version"]; present {
		version, ok := rawVersion.(string)
		if !ok || !g.HasVersion(version) {
			return domain.BadRequestf("invalid head.version: expected one of %v, received %s",
				g.Versions, format.Describe(rawVersion))
		}
	}
	return nil
}

// HitFields renders the games' hit-data and hit-meta rules as the CUE value
// filled into #HitFields. Hit data are always integer counts.
func HitFields(games *gameconfig.Config) string {
	var b strings.Builder
	b.WriteString("{\n")
	for _, id := range games.Games() {
		g, _ := games.Game(id)
		fmt.Fprintf(&b, "\t%q: {\n\t\tdata: %s\n\t\tmeta: %s\n\t}\n",
			string(id), fieldRules(g.HitData, true), fieldRules(g.HitMeta, false))
	}
	b.WriteString("}")
	return b.String()
}

func fieldRules(rules map[string]gameconfig.FieldRule, integers bool) string {
	fields := make([]string, 0, len(rules))
	for _, name := range slices.Sorted(maps.Keys(rules)) {
		rule := rules[name]
		c := "number"
		if integers || rule.Integer {
			c = "int"
		}
		if rule.Min != nil {
			c += " & >=" + strconv.FormatFloat(*rule.Min, 'f', -1, 64)
		}
		if rule.Max != nil {
			c += " & <=" + strconv.FormatFloat(*rule.Max, 'f', -1, 64)
		}
		fields = append(fields, fmt.Sprintf("%q?: %s", name, c))
	}
	return "close({" + strings.Join(fields, ", ") + "})"
}

// Converter converts batch envelope records.
type Converter struct {
	kit *format.Kit
}

// NewConverter creates a Converter over kit.
func NewConverter(kit *format.Kit) *Converter {
	return &Converter{kit: kit}
}

func (c *Converter) Convert(ctx context.Context, rec Record, ictx domain.ImportContext) (domain.DryScore, error) {
	g, err := c.kit.Game(ictx.Game)
	if err != nil {
		return domain.DryScore{}, err
	}

	playtype := rec.Playtype
	if playtype == "" {
		if def, ok := g.DefaultPlaytype(); ok {
			playtype = def
		}
	}

	id, err := identity(rec, playtype, ictx.Version)
	if err != nil {
		return domain.DryScore{}, err
	}
	res, err := c.kit.Resolve(ctx, ictx, rec, id)
	if err != nil {
		return domain.DryScore{}, err
	}

	in := format.ScoreInput{
		Score:      rec.Score,
		Lamp:       rec.Lamp,
		Judgements: rec.HitData,
		HitMeta:    rec.HitMeta,
		Comment:    rec.Comment,
	}
	if rec.TimeAchieved != nil {
		t := time.UnixMilli(*rec.TimeAchieved).UTC()
		in.TimeAchieved = &t
	}
	return c.kit.Assemble(ictx, res, in, format.IdentityLamps(g))
}

func identity(rec Record, playtype domain.Playtype, version string) (format.Identity, error) {
	switch rec.MatchType {
	case MatchSongTitle:
		return format.ByTitle{
			Title:      rec.Identifier,
			Mode:       catalog.TitleCaseInsensitive,
			Playtype:   playtype,
			Difficulty: rec.Difficulty,
		}, nil
	case MatchSongID:
		id, err := strconv.Atoi(rec.Identifier)
		if err != nil {
			return nil, domain.InvalidScoref("songID identifier must be an integer, received %q", rec.Identifier)
		}
		return format.BySongID{SongID: id, Playtype: playtype, Difficulty: rec.Difficulty}, nil
	case MatchHash:
		return format.ByHash{Hash: rec.Identifier}, nil
	case MatchInGameID:
		id, err := strconv.Atoi(rec.Identifier)
		if err != nil {
			return nil, domain.InvalidScoref("inGameID identifier must be an integer, received %q", rec.Identifier)
		}
		return format.ByInGameID{InGameID: id, Playtype: playtype, Difficulty: rec.Difficulty, Version: version}, nil
	default:
		return nil, domain.InvalidScoref("unknown matchType %q", rec.MatchType)
	}
}
