package fervidex_test

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/format/fervidex"
	"github.com/couchcryptid/score-import-etl/internal/format/formattest"
	"github.com/couchcryptid/score-import-etl/internal/schema"
)

const (
	model27  = "LDJ:J:B:A:2020092900"
	model30  = "LDJ:J:B:A:2022110100"
	modelInf = "P2D:J:B:A:2023101800"
)

func newParser(t *testing.T) *fervidex.Parser {
	t.Helper()
	schemas, err := schema.New()
	require.NoError(t, err)
	return fervidex.New(formattest.Kit(t), schemas)
}

func parse(t *testing.T, model, payload string) (*format.Submission, error) {
	t.Helper()
	meta := format.RequestMeta{Header: http.Header{}}
	if model != "" {
		meta.Header.Set(fervidex.HeaderSoftwareModel, model)
	}
	return newParser(t).Parse(context.Background(), []byte(payload), meta)
}

func body(chart string, entryID, pgreat, great, exScore, clearType int, extra string) string {
	return `{"chart": "` + chart + `", "entry_id": ` + strconv.Itoa(entryID) +
		`, "pgreat": ` + strconv.Itoa(pgreat) + `, "great": ` + strconv.Itoa(great) +
		`, "good": 10, "bad": 2, "poor": 5, "ex_score": ` + strconv.Itoa(exScore) +
		`, "clear_type": ` + strconv.Itoa(clearType) + extra + `}`
}

func TestParse_ArcadeScore(t *testing.T) {
	sub, err := parse(t, model27, body("spa", formattest.IIDXInGameID, 600, 300, 1500, 5,
		`, "fast": 40, "slow": 31, "max_combo": 512, "gauge": [22, 80, 96],
		  "option": {"style": "RANDOM", "gauge": "HARD", "assist": null}, "pacemaker": {"type": "AAA"}`))
	require.NoError(t, err)
	assert.Equal(t, "27", sub.Context.Version)
	assert.Equal(t, model27, sub.Context.SoftwareModel)
	require.Len(t, sub.Records, 1)

	scores, errs := formattest.ConvertAll(t, sub)
	require.NoError(t, errs[0])

	s := scores[0]
	assert.Equal(t, "iidx-511-sp-a-27", s.ChartID, "version 27 pins the revised chart")
	assert.Equal(t, domain.PlaytypeSP, s.Playtype)
	assert.Equal(t, "HARD CLEAR", s.ScoreData.Lamp)
	assert.InDelta(t, 1500.0*100/1800, s.ScoreData.Percent, 1e-9)
	assert.Equal(t, "AA", s.ScoreData.Grade)
	assert.Equal(t, map[string]int{"pgreat": 600, "great": 300, "good": 10, "bad": 2, "poor": 5}, s.ScoreData.Judgements)
	assert.Equal(t, map[string]float64{"bp": 7, "fast": 40, "slow": 31, "maxCombo": 512, "gauge": 96}, s.ScoreData.HitMeta)
	assert.Equal(t, map[string]any{"random": "RANDOM", "gauge": "HARD"}, s.ScoreMeta)
	assert.Equal(t, "Fervidex", s.Service)
	assert.Nil(t, s.TimeAchieved)
}

func TestParse_Infinitas(t *testing.T) {
	sub, err := parse(t, modelInf, body("spa", formattest.IIDXInGameID, 600, 300, 1500, 4, ""))
	require.NoError(t, err)
	assert.Equal(t, "inf", sub.Context.Version)

	scores, errs := formattest.ConvertAll(t, sub)
	require.NoError(t, errs[0])
	assert.Equal(t, "iidx-511-sp-a", scores[0].ChartID)
	assert.Empty(t, scores[0].ScoreMeta)
}

func TestConvert_RecordFailures(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		payload string
		kind    domain.FailureKind
		want    string
	}{
		{"ex score mismatch", model30, body("spa", formattest.IIDXInGameID, 600, 301, 1500, 4, ""), domain.KindInvalidScore, "1501"},
		{"unknown entry", model30, body("spa", 30000, 600, 300, 1500, 4, ""), domain.KindDataNotFound, "30000"},
		{"chart not in version", model27, body("dpa", formattest.IIDXInGameID, 600, 300, 1500, 4, ""), domain.KindDataNotFound, "version 27"},
		{"orphan chart", model30, body("spa", formattest.OrphanInGameID, 400, 200, 1000, 4, ""), domain.KindInternal, "999"},
		{"percent above max", model30, body("spa", formattest.IIDXInGameID, 1000, 10, 2010, 4, ""), domain.KindInvalidScore, "2010"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := parse(t, tt.model, tt.payload)
			require.NoError(t, err)

			_, errs := formattest.ConvertAll(t, sub)
			require.Error(t, errs[0])
			assert.Equal(t, tt.kind, domain.KindOf(errs[0]))
			assert.Contains(t, errs[0].Error(), tt.want)
		})
	}
}

func TestParse_Fatal(t *testing.T) {
	valid := body("spa", formattest.IIDXInGameID, 600, 300, 1500, 4, "")

	tests := []struct {
		name    string
		model   string
		payload string
		want    string
	}{
		{"missing model", "", valid, "missing X-Software-Model"},
		{"other game", "KFC:J:A:A:2020092900", valid, "unsupported"},
		{"predates support", "LDJ:J:B:A:2017010100", valid, "predates"},
		{"short datecode", "LDJ:J:B:A:20200929", valid, "10 digit"},
		{"malformed model", "LDJ", valid, "MODEL:DEST"},
		{"schema chart", model30, body("spx", formattest.IIDXInGameID, 600, 300, 1500, 4, ""), "chart"},
		{"schema entry id", model30, body("spa", 12, 600, 300, 1500, 4, ""), "entry_id"},
		{"schema clear type", model30, body("spa", formattest.IIDXInGameID, 600, 300, 1500, 9, ""), "clear_type"},
		{"not json", model30, `{`, "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.model, tt.payload)
			require.Error(t, err)

			var fatal *domain.FatalError
			require.ErrorAs(t, err, &fatal)
			assert.Equal(t, http.StatusBadRequest, fatal.Status)
			assert.Contains(t, fatal.Message, tt.want)
		})
	}
}

func TestVersionForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"LDJ:J:B:A:2018110700", "26"},
		{"LDJ:J:B:A:2019101600", "27"},
		{"LDJ:J:B:A:2020092900", "27"},
		{"LDJ:J:B:A:2020102800", "28"},
		{"LDJ:J:B:A:2021101200", "28"},
		{"LDJ:J:B:A:2022102700", "30"},
		{"LDJ:J:B:A:2024060100", "31"},
		{"P2D:J:B:A:2019010100", "inf"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, err := fervidex.VersionForModel(tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
