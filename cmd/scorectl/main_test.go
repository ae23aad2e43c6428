package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/score-import-etl/internal/pipeline"
)

const seed = `
songs:
  - id: 1
    game: iidx
    title: "5.1.1."
charts:
  - chartID: iidx-511-sp-a
    songID: 1
    game: iidx
    playtype: SP
    difficulty: ANOTHER
    level: "12"
    isPrimary: true
    versions: ["30", "31"]
    inGameID: 25001
    notecount: 1000
`

const submission = `{"head": {"service": "scorectl", "game": "iidx"}, "body": [
	{"score": 1800, "lamp": "HARD CLEAR", "matchType": "songTitle", "identifier": "5.1.1.", "playtype": "SP", "difficulty": "ANOTHER"},
	{"score": 1800, "lamp": "CLEAR", "matchType": "songTitle", "identifier": "unknown", "playtype": "SP", "difficulty": "ANOTHER"}
]}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConvert_Table(t *testing.T) {
	seedPath := writeFile(t, "seed.yaml", seed)
	subPath := writeFile(t, "scores.json", submission)

	out, err := execute(t, "", "convert", "--type", "file/batch-manual", "--seed", seedPath, subPath)
	require.NoError(t, err)

	assert.Contains(t, out, "iidx-511-sp-a")
	assert.Contains(t, out, "HARD CLEAR")
	assert.Contains(t, out, "90.00")
	assert.Contains(t, out, "DataNotFound")
	assert.Contains(t, out, "1 imported, 1 failed")
}

func TestConvert_JSONFromStdin(t *testing.T) {
	seedPath := writeFile(t, "seed.yaml", seed)

	out, err := execute(t, submission, "convert", "-t", "file/batch-manual", "--seed", seedPath, "--json", "-")
	require.NoError(t, err)

	var res pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.Imported)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "AAA", res.Outcomes[0].Score.ScoreData.Grade)
}

func TestConvert_Rejected(t *testing.T) {
	subPath := writeFile(t, "scores.json", `{"head": {"service": "x", "game": "iidx"}, "body": []}`)

	_, err := execute(t, "", "convert", "--type", "file/batch-manual", subPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submission rejected (400)")
}

func TestConvert_RequiresType(t *testing.T) {
	_, err := execute(t, "", "convert", "scores.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type")
}

const sdvxSeed = `
songs:
  - id: 30
    game: sdvx
    title: "Max Burning!!"
charts:
  - chartID: sdvx-maxburn-exh
    songID: 30
    game: sdvx
    playtype: Single
    difficulty: EXH
    level: "18"
    isPrimary: true
    versions: ["vivid"]
    inGameID: 1201
    notecount: 1800
`

func arcServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("page") == "" {
			fmt.Fprint(w, `{"_links": {"_next": "/api/v1/sdvx/vivid/player_bests?profile_id=P-1&page=2"}, "_items": [
				{"_id": "a", "music_id": 1201, "music_difficulty": "EXHAUST", "clear_type": "HARD_CLEAR", "score": 9800000}
			]}`)
			return
		}
		fmt.Fprint(w, `{"_links": {"_next": null}, "_items": [
			{"_id": "b", "music_id": 9999, "music_difficulty": "EXHAUST", "clear_type": "CLEAR", "score": 9000000}
		]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestARC_Table(t *testing.T) {
	srv := arcServer(t)
	seedPath := writeFile(t, "seed.yaml", sdvxSeed)

	out, err := execute(t, "", "arc", "P-1", "--base-url", srv.URL, "--token", "secret", "--seed", seedPath)
	require.NoError(t, err)

	assert.Contains(t, out, "sdvx-maxburn-exh")
	assert.Contains(t, out, "EXCESSIVE CLEAR")
	assert.Contains(t, out, "1 imported, 0 failed")
	assert.Contains(t, out, "0 imported, 1 failed")
}

func TestARC_TokenFromEnv(t *testing.T) {
	srv := arcServer(t)
	t.Setenv("ARC_TOKEN", "secret")

	out, err := execute(t, "", "arc", "P-1", "--base-url", srv.URL, "--json")
	require.NoError(t, err)

	var results []pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "vivid", results[0].Context.Version)
}

func TestARC_RequiresToken(t *testing.T) {
	t.Setenv("ARC_TOKEN", "")

	_, err := execute(t, "", "arc", "P-1", "--base-url", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARC_TOKEN")
}

func TestARC_Unauthorized(t *testing.T) {
	srv := arcServer(t)

	_, err := execute(t, "", "arc", "P-1", "--base-url", srv.URL, "--token", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestGames(t *testing.T) {
	out, err := execute(t, "", "games")
	require.NoError(t, err)
	assert.Contains(t, out, "iidx")
	assert.Contains(t, out, "sdvx")
}

func TestTypes(t *testing.T) {
	out, err := execute(t, "", "types")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"api/arc-sdvx",
		"file/batch-manual",
		"file/eamusement-iidx-csv",
		"ir/direct-manual",
		"ir/fervidex",
	}, strings.Fields(out))
}
