package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration test - needs a disposable Postgres database
func TestPostgres_Integration(t *testing.T) {
	godotenv.Load("../../.env")

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres integration test")
	}

	ctx := context.Background()
	s, err := Open(ctx, url)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(ctx))

	id := "TEST1_" + uuid.NewString()

	n, err := s.InsertMatchRefs(ctx, []string{id, id})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.WithTx(ctx, func(w Writer) error {
		if err := w.PutMatchDetail(ctx, MatchDetail{
			MatchID: id, GameDurationSeconds: 1800, WinningTeam: 100,
			Payload: []byte(`{"metadata":{}}`), Timeline: []byte(`{"info":{}}`),
		}); err != nil {
			return err
		}
		return w.MarkDetailFetched(ctx, id)
	}))

	ref, err := s.GetMatchRef(ctx, id)
	require.NoError(t, err)
	assert.True(t, ref.DetailFetched)

	d, err := s.GetMatchDetail(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"info":{}}`, string(d.Timeline))

	require.NoError(t, s.WithTx(ctx, func(w Writer) error {
		if _, err := w.PutFrameRows(ctx, FramesFull, []FrameRow{
			{MatchID: id, ParticipantID: 1, Identifier: id + "_1", Winner: 1, Features: map[string]float64{"xp": 10}},
		}); err != nil {
			return err
		}
		return w.MarkFramesFlattened(ctx, id, FramesFull)
	}))

	assert.Error(t, s.ChangeColumn(ctx, "match_refs", "frames_flattened", false, id))
}
