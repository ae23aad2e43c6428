package batchmanual_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/format/batchmanual"
	"github.com/couchcryptid/score-import-etl/internal/format/formattest"
	"github.com/couchcryptid/score-import-etl/internal/gameconfig"
)

func newParser(t *testing.T) *batchmanual.Parser {
	t.Helper()
	p, err := batchmanual.New(domain.ImportBatchManual, formattest.Kit(t), formattest.Schemas(t))
	require.NoError(t, err)
	return p
}

func parse(t *testing.T, payload string) (*format.Submission, error) {
	t.Helper()
	return newParser(t).Parse(context.Background(), []byte(payload), format.RequestMeta{})
}

func TestParse_ShortServiceIsFatalEvenWithEmptyBody(t *testing.T) {
	_, err := parse(t, `{"head": {"service": "ab", "game": "iidx"}, "body": []}`)
	require.Error(t, err)

	var fatal *domain.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 400, fatal.Status)
	assert.Contains(t, fatal.Message, "head.service")
	assert.Contains(t, fatal.Message, `"ab" (string)`)
}

func TestParse_EnvelopeDefects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"not json", `{`, "invalid JSON"},
		{"array root", `[]`, "expected an object, received [] (array)"},
		{"unknown root key", `{"head": {"service": "fixture", "game": "iidx"}, "body": [], "meta": 1}`, "meta: field not allowed"},
		{"missing head", `{"body": []}`, "invalid head"},
		{"missing body", `{"head": {"service": "fixture", "game": "iidx"}}`, "body"},
		{"numeric service", `{"head": {"service": 12345, "game": "iidx"}, "body": []}`, "12345 (number)"},
		{"long service", `{"head": {"service": "abcdefghijklmnop", "game": "iidx"}, "body": []}`, "head.service"},
		{"unknown game", `{"head": {"service": "fixture", "game": "ddr"}, "body": []}`, `"ddr" (string)`},
		{"unknown version", `{"head": {"service": "fixture", "game": "iidx", "version": "12"}, "body": []}`, "head.version"},
		{"unknown head key", `{"head": {"service": "fixture", "game": "iidx", "playtype": "SP"}, "body": []}`, "head.playtype"},
		{"body not array", `{"head": {"service": "fixture", "game": "iidx"}, "body": {}}`, "body"},
		{
			"record score string",
			`{"head": {"service": "fixture", "game": "iidx"}, "body": [{"score": "1", "lamp": "CLEAR", "matchType": "songID", "identifier": "1"}]}`,
			"body[0].score",
		},
		{
			"record bad match type",
			`{"head": {"service": "fixture", "game": "iidx"}, "body": [{"score": 1, "lamp": "CLEAR", "matchType": "tachiSongID", "identifier": "1"}]}`,
			"body[0].matchType",
		},
		{
			"timestamp in seconds",
			`{"head": {"service": "fixture", "game": "iidx"}, "body": [{"score": 1, "lamp": "CLEAR", "matchType": "songID", "identifier": "1", "timeAchieved": 1700000000}]}`,
			"body[0].timeAchieved",
		},
		{
			"short comment",
			`{"head": {"service": "fixture", "game": "iidx"}, "body": [{"score": 1, "lamp": "CLEAR", "matchType": "songID", "identifier": "1", "comment": "hi"}]}`,
			"body[0].comment",
		},
		{
			"hit data not allowed for game",
			`{"head": {"service": "fixture", "game": "iidx"}, "body": [{"score": 1, "lamp": "CLEAR", "matchType": "songID", "identifier": "1", "hitData": {"critical": 1}}]}`,
			"body[0].hitData.critical",
		},
		{
			"hit data fractional",
			`{"head": {"service": "fixture", "game": "iidx"}, "body": [{"score": 1, "lamp": "CLEAR", "matchType": "songID", "identifier": "1", "hitData": {"pgreat": 1.5}}]}`,
			"body[0].hitData.pgreat",
		},
		{
			"unknown record key",
			`{"head": {"service": "fixture", "game": "iidx"}, "body": [{"score": 1, "lamp": "CLEAR", "matchType": "songID", "identifier": "1", "grade": "AAA"}]}`,
			"body[0].grade",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.payload)
			require.Error(t, err)
			assert.True(t, domain.IsFatal(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConvert_Records(t *testing.T) {
	sub, err := parse(t, `{
		"head": {"service": "fixture", "game": "iidx", "version": "31"},
		"body": [
			{"score": 1800, "lamp": "HARD CLEAR", "matchType": "songTitle", "identifier": "5.1.1.",
			 "playtype": "SP", "difficulty": "ANOTHER", "timeAchieved": 1714564800000,
			 "hitData": {"pgreat": 850, "great": 100}, "hitMeta": {"bp": 4}, "comment": "nice"},
			{"score": 1800, "lamp": "CLEAR", "matchType": "songTitle", "identifier": "piano concerto no.1 \"sasori-bi\"",
			 "playtype": "SP", "difficulty": "ANOTHER"},
			{"score": 1800, "lamp": "CLEAR", "matchType": "songTitle", "identifier": "unknown", "playtype": "SP", "difficulty": "ANOTHER"},
			{"score": 1800, "lamp": "PERFECT", "matchType": "songID", "identifier": "1", "playtype": "SP", "difficulty": "ANOTHER"},
			{"score": 1800, "lamp": "CLEAR", "matchType": "songTitle", "identifier": "5.1.1.", "difficulty": "ANOTHER"},
			{"score": 2400, "lamp": "CLEAR", "matchType": "songID", "identifier": "1", "playtype": "SP", "difficulty": "ANOTHER"},
			{"score": 100, "lamp": "CLEAR", "matchType": "songID", "identifier": "one", "playtype": "SP", "difficulty": "ANOTHER"}
		]
	}`)
	require.NoError(t, err)
	assert.Equal(t, domain.GameIIDX, sub.Game)
	assert.Equal(t, "31", sub.Context.Version)

	scores, errs := formattest.ConvertAll(t, sub)

	require.NoError(t, errs[0])
	assert.Equal(t, "iidx-511-sp-a", scores[0].ChartID)
	assert.Equal(t, "AAA", scores[0].ScoreData.Grade)
	assert.Equal(t, "nice", scores[0].Comment)
	require.NotNil(t, scores[0].TimeAchieved)
	assert.Equal(t, int64(1714564800000), scores[0].TimeAchieved.UnixMilli())
	assert.Equal(t, map[string]int{"pgreat": 850, "great": 100}, scores[0].ScoreData.Judgements)

	require.NoError(t, errs[1], "alt title, case-insensitive")
	assert.Equal(t, formattest.IIDXAltSongID, scores[1].SongID)
	assert.Nil(t, scores[1].TimeAchieved)

	assert.Equal(t, domain.KindDataNotFound, domain.KindOf(errs[2]))
	assert.Equal(t, domain.KindInvalidScore, domain.KindOf(errs[3]))
	assert.Contains(t, errs[3].Error(), "PERFECT")
	assert.Equal(t, domain.KindInvalidScore, domain.KindOf(errs[4]), "missing playtype")
	assert.Equal(t, domain.KindInvalidScore, domain.KindOf(errs[5]), "percent above 100")
	assert.Contains(t, errs[5].Error(), "2400")
	assert.Contains(t, errs[5].Error(), "120.0000")
	assert.Equal(t, domain.KindInvalidScore, domain.KindOf(errs[6]))
}

func TestParse_HitFieldsFollowTheGame(t *testing.T) {
	sdvxRecord := `{"head": {"service": "fixture", "game": "sdvx"}, "body": [{"score": 9000000, "lamp": "CLEAR",
		"matchType": "inGameID", "identifier": "1201", "difficulty": "EXH", "hitData": {"critical": 1500, "near": 3}}]}`
	_, err := parse(t, sdvxRecord)
	require.NoError(t, err)

	iidxRecord := `{"head": {"service": "fixture", "game": "iidx"}, "body": [{"score": 9000000, "lamp": "CLEAR",
		"matchType": "songID", "identifier": "1", "hitData": {"critical": 1500}}]}`
	_, err = parse(t, iidxRecord)
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
}

func TestConvert_VersionWithoutChartIsNotFound(t *testing.T) {
	sub, err := parse(t, `{
		"head": {"service": "fixture", "game": "iidx", "version": "26"},
		"body": [
			{"score": 1800, "lamp": "CLEAR", "matchType": "songID", "identifier": "1", "playtype": "SP", "difficulty": "ANOTHER"},
			{"score": 1800, "lamp": "CLEAR", "matchType": "songTitle", "identifier": "5.1.1.", "playtype": "SP", "difficulty": "ANOTHER"}
		]
	}`)
	require.NoError(t, err)

	scores, errs := formattest.ConvertAll(t, sub)
	for i := range errs {
		require.Error(t, errs[i], "record %d resolved to %s", i, scores[i].ChartID)
		assert.Equal(t, domain.KindDataNotFound, domain.KindOf(errs[i]))
	}
}

func TestHitFields(t *testing.T) {
	games, err := gameconfig.Load()
	require.NoError(t, err)

	src := batchmanual.HitFields(games)
	assert.Contains(t, src, `"iidx": {`)
	assert.Contains(t, src, `"pgreat"?: int`)
	assert.Contains(t, src, "close({")
}

func TestConvert_DefaultsSinglePlaytype(t *testing.T) {
	sub, err := parse(t, `{
		"head": {"service": "fixture", "game": "sdvx"},
		"body": [{"score": 9900000, "lamp": "EXCESSIVE CLEAR", "matchType": "inGameID",
		          "identifier": "1201", "difficulty": "EXH"}]
	}`)
	require.NoError(t, err)

	scores, errs := formattest.ConvertAll(t, sub)
	require.NoError(t, errs[0])
	assert.Equal(t, domain.PlaytypeSingle, scores[0].Playtype)
	assert.Equal(t, "S", scores[0].ScoreData.Grade)
	assert.Nil(t, scores[0].ScoreData.ESD)
}

func TestConvert_HashMatch(t *testing.T) {
	sub, err := parse(t, `{
		"head": {"service": "fixture", "game": "bms"},
		"body": [{"score": 2700, "lamp": "EX HARD CLEAR", "matchType": "hash",
		          "identifier": "`+formattest.BMSHashSHA256+`"}]
	}`)
	require.NoError(t, err)

	scores, errs := formattest.ConvertAll(t, sub)
	require.NoError(t, errs[0])
	assert.Equal(t, "bms-fixture", scores[0].ChartID)
	assert.InDelta(t, 90, scores[0].ScoreData.Percent, 1e-9)
}

func TestConvert_RoundTrip(t *testing.T) {
	conv := batchmanual.NewConverter(formattest.Kit(t))
	ictx := domain.ImportContext{ImportType: domain.ImportBatchManual, Game: domain.GameIIDX, Service: "fixture", Version: "27"}
	ms := int64(1714564800000)

	first, err := conv.Convert(context.Background(), batchmanual.Record{
		Score:        1500,
		Lamp:         "EX HARD CLEAR",
		MatchType:    batchmanual.MatchSongTitle,
		Identifier:   "5.1.1.",
		Playtype:     domain.PlaytypeSP,
		Difficulty:   "ANOTHER",
		Comment:      "first try",
		TimeAchieved: &ms,
		HitData:      map[string]int{"pgreat": 700, "great": 100},
		HitMeta:      map[string]float64{"gauge": 62.5},
	}, ictx)
	require.NoError(t, err)
	assert.Equal(t, "iidx-511-sp-a-27", first.ChartID)

	achieved := first.TimeAchieved.UnixMilli()
	again, err := conv.Convert(context.Background(), batchmanual.Record{
		Score:        first.ScoreData.Score,
		Lamp:         first.ScoreData.Lamp,
		MatchType:    batchmanual.MatchSongID,
		Identifier:   strconv.Itoa(first.SongID),
		Playtype:     first.Playtype,
		Difficulty:   first.Difficulty,
		Comment:      first.Comment,
		TimeAchieved: &achieved,
		HitData:      first.ScoreData.Judgements,
		HitMeta:      first.ScoreData.HitMeta,
	}, ictx)
	require.NoError(t, err)

	if diff := cmp.Diff(first, again); diff != "" {
		t.Errorf("round trip mismatch (-first +again):\n%s", diff)
	}
}

func TestRecord_JSONShape(t *testing.T) {
	var rec batchmanual.Record
	require.NoError(t, json.Unmarshal([]byte(`{"score": 1, "lamp": "CLEAR", "matchType": "songID", "identifier": "1", "timeAchieved": null}`), &rec))
	assert.Nil(t, rec.TimeAchieved)
	assert.Equal(t, batchmanual.MatchSongID, rec.MatchType)
}
