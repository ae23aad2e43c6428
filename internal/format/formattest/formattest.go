// Package formattest provides a small fixed catalog and a ready Kit for
// converter tests.
package formattest

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/score-import-etl/internal/catalog"
	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/gameconfig"
	"github.com/couchcryptid/score-import-etl/internal/schema"
	"github.com/couchcryptid/score-import-etl/internal/scoremetric"
)

// Catalog fixture IDs.
const (
	IIDXSongID     = 1
	IIDXAltSongID  = 2
	IIDXInGameID   = 25001
	OrphanInGameID = 25999
	BMSSongID      = 10
	BMSHashMD5     = "d41d8cd98f00b204e9800998ecf8427e"
	BMSHashSHA256  = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	SDVXSongID     = 30
	SDVXInGameID   = 1201
	ChunithmSongID = 40
)

// Songs are the fixture songs.
var Songs = []domain.Song{
	{ID: IIDXSongID, Game: domain.GameIIDX, Title: "5.1.1.", Artist: "dj nagureo"},
	{ID: IIDXAltSongID, Game: domain.GameIIDX, Title: "ピアノ協奏曲第１番\"蠍火\"", AltTitles: []string{"Piano Concerto No.1 \"Sasori-bi\"", "sasoribi"}},
	{ID: BMSSongID, Game: domain.GameBMS, Title: "BMS fixture"},
	{ID: SDVXSongID, Game: domain.GameSDVX, Title: "Max Burning!!"},
	{ID: ChunithmSongID, Game: domain.GameCHUNITHM, Title: "Tsunami"},
}

// Charts are the fixture charts.
var Charts = []domain.Chart{
	{ID: "iidx-511-sp-a", SongID: IIDXSongID, Game: domain.GameIIDX, Playtype: domain.PlaytypeSP, Difficulty: "ANOTHER", Level: "12", IsPrimary: true, Versions: []string{"30", "31", "inf"}, InGameID: IIDXInGameID, NoteCount: 1000},
	{ID: "iidx-511-sp-a-27", SongID: IIDXSongID, Game: domain.GameIIDX, Playtype: domain.PlaytypeSP, Difficulty: "ANOTHER", Level: "11", IsPrimary: false, Versions: []string{"27"}, InGameID: IIDXInGameID, NoteCount: 900},
	{ID: "iidx-511-sp-h", SongID: IIDXSongID, Game: domain.GameIIDX, Playtype: domain.PlaytypeSP, Difficulty: "HYPER", Level: "9", IsPrimary: true, Versions: []string{"27", "30", "31", "inf"}, InGameID: IIDXInGameID, NoteCount: 750},
	{ID: "iidx-511-sp-l", SongID: IIDXSongID, Game: domain.GameIIDX, Playtype: domain.PlaytypeSP, Difficulty: "LEGGENDARIA", Level: "12", IsPrimary: true, Versions: []string{"27", "30", "31"}, InGameID: IIDXInGameID, NoteCount: 1200},
	{ID: "iidx-511-dp-a", SongID: IIDXSongID, Game: domain.GameIIDX, Playtype: domain.PlaytypeDP, Difficulty: "ANOTHER", Level: "12", IsPrimary: true, Versions: []string{"30", "31"}, InGameID: IIDXInGameID, NoteCount: 1100},
	{ID: "iidx-sasori-sp-a", SongID: IIDXAltSongID, Game: domain.GameIIDX, Playtype: domain.PlaytypeSP, Difficulty: "ANOTHER", Level: "12", IsPrimary: true, Versions: []string{"27", "30", "31"}, InGameID: 13005, NoteCount: 1600},
	{ID: "iidx-orphan", SongID: 999, Game: domain.GameIIDX, Playtype: domain.PlaytypeSP, Difficulty: "ANOTHER", Level: "12", IsPrimary: true, Versions: []string{"30", "31"}, InGameID: OrphanInGameID, NoteCount: 500},
	{ID: "bms-fixture", SongID: BMSSongID, Game: domain.GameBMS, Playtype: domain.Playtype7K, Difficulty: "CHART", Level: "★5", IsPrimary: true, NoteCount: 1500, HashMD5: BMSHashMD5, HashSHA256: BMSHashSHA256},
	{ID: "sdvx-maxburn-exh", SongID: SDVXSongID, Game: domain.GameSDVX, Playtype: domain.PlaytypeSingle, Difficulty: "EXH", Level: "18", IsPrimary: true, Versions: []string{"exceed", "vivid", "heaven"}, InGameID: SDVXInGameID, NoteCount: 1800},
	{ID: "sdvx-maxburn-mxm", SongID: SDVXSongID, Game: domain.GameSDVX, Playtype: domain.PlaytypeSingle, Difficulty: "MXM", Level: "19", IsPrimary: true, Versions: []string{"exceed", "vivid"}, InGameID: SDVXInGameID, NoteCount: 2100},
	{ID: "chuni-tsunami-mas", SongID: ChunithmSongID, Game: domain.GameCHUNITHM, Playtype: domain.PlaytypeSingle, Difficulty: "MASTER", Level: "14", IsPrimary: true, Versions: []string{"sun"}},
}

// Catalog returns an in-memory catalog holding the fixtures.
func Catalog() *catalog.Memory {
	return catalog.NewMemory(Songs, Charts)
}

// Library loads the embedded game tables into a metric library.
func Library(t testing.TB) *scoremetric.Library {
	t.Helper()
	cfg, err := gameconfig.Load()
	require.NoError(t, err)
	return scoremetric.New(cfg, slog.Default())
}

// Kit returns a Kit over the fixture catalog.
func Kit(t testing.TB) *format.Kit {
	t.Helper()
	return format.NewKit(Catalog(), Library(t))
}

// Schemas compiles the embedded payload schemas.
func Schemas(t testing.TB) *schema.Validator {
	t.Helper()
	v, err := schema.New()
	require.NoError(t, err)
	return v
}

// ConvertAll converts every record of a submission in order.
func ConvertAll(t testing.TB, sub *format.Submission) ([]domain.DryScore, []error) {
	t.Helper()
	scores := make([]domain.DryScore, len(sub.Records))
	errs := make([]error, len(sub.Records))
	for i, rec := range sub.Records {
		scores[i], errs[i] = rec.Convert(t.Context())
	}
	return scores, errs
}
