package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/score-import-etl/internal/catalog"
	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/observability"
)

const schema = `
CREATE TABLE songs (game TEXT, id INTEGER, title TEXT, artist TEXT, PRIMARY KEY (game, id));
CREATE TABLE song_alt_titles (game TEXT, song_id INTEGER, title TEXT);
CREATE TABLE charts (
	chart_id TEXT PRIMARY KEY, game TEXT, song_id INTEGER, playtype TEXT, difficulty TEXT,
	level TEXT, is_primary INTEGER, in_game_id INTEGER, notecount INTEGER,
	hash_md5 TEXT, hash_sha256 TEXT
);
CREATE TABLE chart_versions (chart_id TEXT, version TEXT);

INSERT INTO songs VALUES ('iidx', 1, 'Ōkami', 'artist');
INSERT INTO song_alt_titles VALUES ('iidx', 1, 'OKAMI'), ('iidx', 1, 'wolf');
INSERT INTO songs VALUES ('bms', 5, 'hashed', NULL);

INSERT INTO charts VALUES ('iidx-a', 'iidx', 1, 'SP', 'ANOTHER', '12', 1, 1001, 1500, NULL, NULL);
INSERT INTO charts VALUES ('iidx-a-old', 'iidx', 1, 'SP', 'ANOTHER', '11', 0, 1001, 1400, NULL, NULL);
INSERT INTO chart_versions VALUES ('iidx-a', '30'), ('iidx-a', '31'), ('iidx-a-old', '27');

INSERT INTO charts VALUES ('bms-x', 'bms', 5, '7K', 'CHART', NULL, 1, NULL, 900,
	'0123456789abcdef0123456789abcdef', 'ABCDEF');
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")

	seed, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = seed.Exec(schema)
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	store, err := Open(path, observability.NewMetricsForTesting())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_SongLookups(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	song, err := s.SongByID(ctx, domain.GameIIDX, 1)
	require.NoError(t, err)
	require.NotNil(t, song)
	assert.Equal(t, "Ōkami", song.Title)
	assert.Equal(t, domain.GameIIDX, song.Game)
	assert.ElementsMatch(t, []string{"OKAMI", "wolf"}, song.AltTitles)

	song, err = s.SongByTitle(ctx, domain.GameIIDX, "wolf", catalog.TitleExact)
	require.NoError(t, err)
	require.NotNil(t, song, "alt title only")
	assert.Equal(t, 1, song.ID)

	song, err = s.SongByTitle(ctx, domain.GameIIDX, "ōkami", catalog.TitleExact)
	require.NoError(t, err)
	assert.Nil(t, song)

	song, err = s.SongByTitle(ctx, domain.GameIIDX, "ōKAMI", catalog.TitleCaseInsensitive)
	require.NoError(t, err)
	require.NotNil(t, song)

	song, err = s.SongByTitle(ctx, domain.GameIIDX, "WOLF", catalog.TitleCaseInsensitive)
	require.NoError(t, err)
	require.NotNil(t, song)

	song, err = s.SongByID(ctx, domain.GameBMS, 1)
	require.NoError(t, err)
	assert.Nil(t, song)
}

func TestStore_ChartLookups(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	chart, err := s.ChartByHash(ctx, domain.GameBMS, "0123456789ABCDEF0123456789ABCDEF")
	require.NoError(t, err)
	require.NotNil(t, chart)
	assert.Equal(t, "bms-x", chart.ID)
	assert.Equal(t, 900, chart.NoteCount)
	assert.Zero(t, chart.InGameID)
	assert.Empty(t, chart.Versions)

	chart, err = s.ChartByHash(ctx, domain.GameBMS, "abcdef")
	require.NoError(t, err)
	require.NotNil(t, chart, "sha256 column is checked too")

	chart, err = s.ChartByInGameIDVersion(ctx, domain.GameIIDX, 1001, domain.PlaytypeSP, "ANOTHER", "27")
	require.NoError(t, err)
	require.NotNil(t, chart)
	assert.Equal(t, "iidx-a-old", chart.ID)
	assert.False(t, chart.IsPrimary)

	chart, err = s.ChartByInGameIDVersion(ctx, domain.GameIIDX, 1001, domain.PlaytypeSP, "ANOTHER", "29")
	require.NoError(t, err)
	assert.Nil(t, chart, "no primary fallback")

	chart, err = s.PrimaryChartByInGameID(ctx, domain.GameIIDX, 1001, domain.PlaytypeSP, "ANOTHER")
	require.NoError(t, err)
	require.NotNil(t, chart)
	assert.Equal(t, "iidx-a", chart.ID)
	assert.ElementsMatch(t, []string{"30", "31"}, chart.Versions)

	chart, err = s.PrimaryChart(ctx, domain.GameIIDX, 1, domain.PlaytypeSP, "ANOTHER")
	require.NoError(t, err)
	require.NotNil(t, chart)
	assert.Equal(t, "12", chart.Level)

	chart, err = s.ChartByVersion(ctx, domain.GameIIDX, 1, domain.PlaytypeSP, "ANOTHER", "27")
	require.NoError(t, err)
	require.NotNil(t, chart)
	assert.Equal(t, 1400, chart.NoteCount)

	chart, err = s.PrimaryChart(ctx, domain.GameIIDX, 1, domain.PlaytypeDP, "ANOTHER")
	require.NoError(t, err)
	assert.Nil(t, chart)
}

func TestStore_ReadOnly(t *testing.T) {
	s := newTestStore(t)

	_, err := s.db.Exec(`INSERT INTO songs VALUES ('iidx', 2, 'x', NULL)`)
	require.Error(t, err)
	require.NoError(t, s.CheckReadiness(context.Background()))
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "file:/tmp/c.db?_pragma=query_only(1)&_pragma=busy_timeout(5000)", dsn("/tmp/c.db"))
	assert.Equal(t, "file:c.db?mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(5000)", dsn("file:c.db?mode=ro"))
}
