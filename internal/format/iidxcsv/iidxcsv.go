// Package iidxcsv implements the IIDX score export downloaded from the
// e-amusement site.
//
// The export has one row per song and a block of seven cells per difficulty:
// level, EX score, PGREAT, GREAT, miss count, clear type and DJ level. Two
// layouts exist. The current one has 41 columns and covers BEGINNER through
// LEGGENDARIA; exports from before LEGGENDARIA became its own column have 27
// and cover NORMAL, HYPER and ANOTHER only.
package iidxcsv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/score-import-etl/internal/catalog"
	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
)

const (
	titleColumn     = 1
	firstDiffColumn = 5
	cellsPerDiff    = 7
)

// Options read from the request.
const (
	OptionPlaytype = "playtype"
	OptionVersion  = "version"
)

// Layout describes one column arrangement of the export.
type Layout struct {
	Columns      int
	Difficulties []string
	legacy       bool
}

var (
	// Layout41 is the current export.
	Layout41 = Layout{Columns: 41, Difficulties: []string{"BEGINNER", "NORMAL", "HYPER", "ANOTHER", "LEGGENDARIA"}}
	// Layout27 predates the LEGGENDARIA columns.
	Layout27 = Layout{Columns: 27, Difficulties: []string{"NORMAL", "HYPER", "ANOTHER"}, legacy: true}
)

var jst = time.FixedZone("JST", 9*60*60)

var lamps = format.LampTable{
	"NO PLAY":       "NO PLAY",
	"FAILED":        "FAILED",
	"ASSIST CLEAR":  "ASSIST CLEAR",
	"EASY CLEAR":    "EASY CLEAR",
	"CLEAR":         "CLEAR",
	"HARD CLEAR":    "HARD CLEAR",
	"EX HARD CLEAR": "EX HARD CLEAR",
	"FULL COMBO":    "FULL COMBO",
}

// Record is one played difficulty of one row. Cells are kept as exported.
type Record struct {
	Row        int    `json:"row"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
	Level      string `json:"level"`
	EXScore    string `json:"exScore"`
	PGreat     string `json:"pgreat"`
	Great      string `json:"great"`
	MissCount  string `json:"missCount"`
	ClearType  string `json:"clearType"`
	LastPlayed string `json:"lastPlayed"`
}

// Parser parses e-amusement IIDX CSV exports.
type Parser struct {
	kit  *format.Kit
	conv *Converter
}

// New creates a Parser.
func New(kit *format.Kit) *Parser {
	return &Parser{kit: kit, conv: NewConverter(kit)}
}

func (p *Parser) ImportType() domain.ImportType { return domain.ImportIIDXCSV }

func (p *Parser) Parse(_ context.Context, payload []byte, meta format.RequestMeta) (*format.Submission, error) {
	g, err := p.kit.Game(domain.GameIIDX)
	if err != nil {
		return nil, err
	}

	pt := domain.Playtype(meta.Option(OptionPlaytype))
	if pt != domain.PlaytypeSP && pt != domain.PlaytypeDP {
		return nil, domain.BadRequestf("invalid playtype option: expected SP or DP, received %q", pt)
	}
	version := meta.Option(OptionVersion)
	if version != "" && !g.HasVersion(version) {
		return nil, domain.BadRequestf("invalid version option: expected one of %v, received %q", g.Versions, version)
	}

	rows, err := readRows(payload)
	if err != nil {
		return nil, err
	}
	layout, err := detectLayout(rows[0])
	if err != nil {
		return nil, err
	}

	var records []Record
	for i, row := range rows[1:] {
		records = append(records, layout.records(i+2, row)...)
	}

	ictx := domain.ImportContext{
		ImportType: domain.ImportIIDXCSV,
		Game:       domain.GameIIDX,
		Service:    "e-amusement",
		Version:    version,
		Playtype:   pt,
	}
	return format.NewSubmission(ictx, records, p.conv), nil
}

func readRows(payload []byte) ([][]string, error) {
	payload = bytes.TrimPrefix(payload, []byte("\ufeff"))
	r := csv.NewReader(bytes.NewReader(payload))
	r.FieldsPerRecord = 0

	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.BadRequestf("invalid CSV: %v", err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, domain.BadRequestf("invalid CSV: no header row")
	}
	return rows, nil
}

func detectLayout(header []string) (Layout, error) {
	switch len(header) {
	case Layout41.Columns:
		return Layout41, nil
	case Layout27.Columns:
		return Layout27, nil
	default:
		return Layout{}, domain.BadRequestf("invalid CSV header: expected %d or %d columns, received %d",
			Layout41.Columns, Layout27.Columns, len(header))
	}
}

func (l Layout) records(rowNum int, row []string) []Record {
	title := row[titleColumn]
	lastPlayed := row[len(row)-1]

	difficulties := l.Difficulties
	leggendaria := false
	if l.legacy {
		title, leggendaria = legacyLeggendaria(title)
		if leggendaria {
			difficulties = []string{"ANOTHER"}
		}
	}

	var out []Record
	for _, diff := range difficulties {
		i := firstDiffColumn + cellsPerDiff*slices.Index(l.Difficulties, diff)
		cells := row[i : i+cellsPerDiff]
		level, score := strings.TrimSpace(cells[0]), strings.TrimSpace(cells[1])
		if level == "" || level == "0" || score == "0" {
			continue
		}
		name := diff
		if leggendaria {
			name = "LEGGENDARIA"
		}
		out = append(out, Record{
			Row:        rowNum,
			Title:      title,
			Difficulty: name,
			Level:      level,
			EXScore:    score,
			PGreat:     strings.TrimSpace(cells[2]),
			Great:      strings.TrimSpace(cells[3]),
			MissCount:  strings.TrimSpace(cells[4]),
			ClearType:  strings.TrimSpace(cells[5]),
			LastPlayed: strings.TrimSpace(lastPlayed),
		})
	}
	return out
}

// legacyLeggendaria recognizes how 27-column exports listed LEGGENDARIA
// charts: as a separate row whose title carries a suffix, with the chart in
// the ANOTHER cells.
func legacyLeggendaria(title string) (string, bool) {
	for _, suffix := range []string{"†LEGGENDARIA", "†", " (L)"} {
		if strings.HasSuffix(title, suffix) {
			return strings.TrimSuffix(title, suffix), true
		}
	}
	return title, false
}

// Converter converts CSV records.
type Converter struct {
	kit *format.Kit
}

// NewConverter creates a Converter over kit.
func NewConverter(kit *format.Kit) *Converter {
	return &Converter{kit: kit}
}

func (c *Converter) Convert(ctx context.Context, rec Record, ictx domain.ImportContext) (domain.DryScore, error) {
	res, err := c.kit.Resolve(ctx, ictx, rec, format.ByTitle{
		Title:      rec.Title,
		Mode:       catalog.TitleExact,
		Playtype:   ictx.Playtype,
		Difficulty: rec.Difficulty,
	})
	if err != nil {
		return domain.DryScore{}, err
	}

	exScore, err := parseCount("EX score", rec.EXScore)
	if err != nil {
		return domain.DryScore{}, err
	}
	pgreat, err := parseCount("PGREAT", rec.PGreat)
	if err != nil {
		return domain.DryScore{}, err
	}
	great, err := parseCount("GREAT", rec.Great)
	if err != nil {
		return domain.DryScore{}, err
	}

	in := format.ScoreInput{
		Score:      float64(exScore),
		Lamp:       rec.ClearType,
		Judgements: map[string]int{"pgreat": pgreat, "great": great},
	}
	if rec.MissCount != "---" && rec.MissCount != "" {
		bp, err := parseCount("miss count", rec.MissCount)
		if err != nil {
			return domain.DryScore{}, err
		}
		in.HitMeta = map[string]float64{"bp": float64(bp)}
	}
	if rec.LastPlayed != "" {
		t, err := parseLastPlayed(rec.LastPlayed)
		if err != nil {
			return domain.DryScore{}, err
		}
		in.TimeAchieved = &t
	}

	exScoreCheck := func(format.Derived) error {
		if got := pgreat*2 + great; got != exScore {
			return domain.InvalidScoref("PGREAT*2 + GREAT is %d (%d*2 + %d), but the EX score is %d",
				got, pgreat, great, exScore)
		}
		return nil
	}
	return c.kit.Assemble(ictx, res, in, lamps, exScoreCheck)
}

func parseCount(field, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.InvalidScoref("invalid %s: expected a non-negative integer, received %q", field, raw)
	}
	return n, nil
}

func parseLastPlayed(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006/01/02 15:04"} {
		if t, err := time.ParseInLocation(layout, raw, jst); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.InvalidScoref("invalid last played timestamp %q", raw)
}
