package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRotator_AppendAndClose(t *testing.T) {
	base := t.TempDir()
	r, err := NewRotator(base)
	require.NoError(t, err)

	require.NoError(t, r.Append("NA1_1", []byte(`{"metadata":{"matchId":"NA1_1"}}`), []byte(`{"info":{}}`)))
	require.NoError(t, r.Append("NA1_2", []byte(`{"metadata":{"matchId":"NA1_2"}}`), nil))

	n, _ := r.Stats()
	assert.Equal(t, 2, n)

	require.NoError(t, r.Close())
	assert.Empty(t, listDir(t, filepath.Join(base, "hot")))

	warm := listDir(t, filepath.Join(base, "warm"))
	require.Len(t, warm, 1)

	recs, err := ReadFile(filepath.Join(base, "warm", warm[0]))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "NA1_1", recs[0].MatchID)
	assert.JSONEq(t, `{"info":{}}`, string(recs[0].Timeline))
	assert.Empty(t, recs[1].Timeline)
	assert.False(t, recs[1].FetchedAt.IsZero())
}

func TestRotator_RotatesOnRecordCount(t *testing.T) {
	base := t.TempDir()
	r, err := NewRotator(base, WithMaxRecords(2))
	require.NoError(t, err)

	for _, id := range []string{"EUW1_1", "EUW1_2", "EUW1_3"} {
		require.NoError(t, r.Append(id, []byte(`{}`), nil))
	}

	assert.Len(t, listDir(t, filepath.Join(base, "warm")), 1)
	n, _ := r.Stats()
	assert.Equal(t, 1, n)

	require.NoError(t, r.Close())
	assert.Len(t, listDir(t, filepath.Join(base, "warm")), 2)
}

func TestRotator_CloseRemovesEmptyFile(t *testing.T) {
	base := t.TempDir()
	r, err := NewRotator(base)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.Empty(t, listDir(t, filepath.Join(base, "hot")))
	assert.Empty(t, listDir(t, filepath.Join(base, "warm")))

	assert.Error(t, r.Append("NA1_1", []byte(`{}`), nil))
	assert.NoError(t, r.Close())
}

func TestRotator_CompressWarm(t *testing.T) {
	base := t.TempDir()
	r, err := NewRotator(base, WithMaxRecords(1))
	require.NoError(t, err)

	require.NoError(t, r.Append("KR_1", []byte(`{"a":1}`), nil))
	require.NoError(t, r.Append("KR_2", []byte(`{"a":2}`), nil))
	require.NoError(t, r.Close())

	n, err := r.CompressWarm()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, listDir(t, filepath.Join(base, "warm")))

	cold := listDir(t, filepath.Join(base, "cold"))
	require.Len(t, cold, 2)

	var ids []string
	for _, name := range cold {
		assert.Equal(t, ".gz", filepath.Ext(name))
		recs, err := ReadFile(filepath.Join(base, "cold", name))
		require.NoError(t, err)
		for _, rec := range recs {
			ids = append(ids, rec.MatchID)
		}
	}
	assert.ElementsMatch(t, []string{"KR_1", "KR_2"}, ids)
}

func TestRotator_SetColdDir(t *testing.T) {
	base := t.TempDir()
	other := filepath.Join(t.TempDir(), "hdd")

	r, err := NewRotator(base, WithMaxRecords(1))
	require.NoError(t, err)
	require.NoError(t, r.SetColdDir(other))

	require.NoError(t, r.Append("BR1_1", []byte(`{}`), nil))
	_, err = r.CompressWarm()
	require.NoError(t, err)

	assert.Len(t, listDir(t, other), 1)
	assert.Empty(t, listDir(t, filepath.Join(base, "cold")))
}
