package store

import (
	"context"
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) *SQL {
	t.Helper()

	s, err := NewSQL(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newMemStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestUpsertPlayers_RefreshesRankingOnly(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	n, err := s.UpsertPlayers(ctx, []Player{
		{SummonerID: "s1", SummonerName: "One", Tier: "MASTER", LeaguePoints: 100, RequestRegion: "euw1", Queue: "RANKED_SOLO_5x5"},
		{SummonerID: "s2", SummonerName: "Two", PUUID: "p2", Tier: "MASTER", LeaguePoints: 90, RequestRegion: "kr", Queue: "RANKED_SOLO_5x5"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.UpdatePlayerIdentity(ctx, "s1", Identity{PUUID: "p1", SummonerLevel: 400}))

	_, err = s.UpsertPlayers(ctx, []Player{
		{SummonerID: "s1", SummonerName: "Renamed", PUUID: "", Tier: "GRANDMASTER", LeaguePoints: 700, Wins: 10, HotStreak: true, RequestRegion: "euw1", Queue: "RANKED_SOLO_5x5"},
	})
	require.NoError(t, err)

	players, err := s.ListPlayers(ctx, PlayerFilter{Shards: []string{"euw1"}})
	require.NoError(t, err)
	require.Len(t, players, 1)

	p := players[0]
	assert.Equal(t, "GRANDMASTER", p.Tier)
	assert.Equal(t, 700, p.LeaguePoints)
	assert.Equal(t, 10, p.Wins)
	assert.True(t, p.HotStreak)
	assert.Equal(t, "One", p.SummonerName, "name is not a ranking field")
	assert.Equal(t, "p1", p.PUUID, "resolved puuid survives a ladder refresh")
	assert.EqualValues(t, 400, p.SummonerLevel)
}

func TestListPlayers_Filters(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	_, err := s.UpsertPlayers(ctx, []Player{
		{SummonerID: "a", RequestRegion: "euw1", Queue: "RANKED_SOLO_5x5"},
		{SummonerID: "b", RequestRegion: "na1", Queue: "RANKED_SOLO_5x5"},
		{SummonerID: "c", RequestRegion: "na1", Queue: "RANKED_FLEX_SR"},
		{SummonerID: "d", RequestRegion: "kr", Queue: "RANKED_SOLO_5x5"},
	})
	require.NoError(t, err)

	all, err := s.ListPlayers(ctx, PlayerFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	some, err := s.ListPlayers(ctx, PlayerFilter{Shards: []string{"na1", "kr"}, Queue: "RANKED_SOLO_5x5"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "b", some[0].SummonerID)
	assert.Equal(t, "d", some[1].SummonerID)

	limited, err := s.ListPlayers(ctx, PlayerFilter{Shuffle: true, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}

func TestDeletePlayerAndMissingIdentity(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	_, err := s.UpsertPlayers(ctx, []Player{{SummonerID: "gone"}})
	require.NoError(t, err)
	require.NoError(t, s.DeletePlayer(ctx, "gone"))

	players, err := s.ListPlayers(ctx, PlayerFilter{})
	require.NoError(t, err)
	assert.Empty(t, players)

	err = s.UpdatePlayerIdentity(ctx, "gone", Identity{PUUID: "x"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestInsertMatchRefs_IgnoresDuplicates(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	n, err := s.InsertMatchRefs(ctx, []string{"NA1_1", "NA1_2", "NA1_3"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.InsertMatchRefs(ctx, []string{"NA1_2", "NA1_4", "NA1_4"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	refs, err := s.ListMatchRefs(ctx, StageDetail, 0)
	require.NoError(t, err)
	assert.Len(t, refs, 4)
	for _, r := range refs {
		assert.False(t, r.DetailFetched)
	}
}

func putDetail(t *testing.T, s Store, id string, timeline []byte) {
	t.Helper()
	err := s.WithTx(context.Background(), func(w Writer) error {
		if err := w.PutMatchDetail(context.Background(), MatchDetail{
			MatchID: id, GameDurationSeconds: 1800, GameVersion: "14.1.1", WinningTeam: 100,
			Payload: []byte(`{"metadata":{"matchId":"` + id + `"}}`), Timeline: timeline,
		}); err != nil {
			return err
		}
		return w.MarkDetailFetched(context.Background(), id)
	})
	require.NoError(t, err)
}

func TestListMatchRefs_Stages(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	_, err := s.InsertMatchRefs(ctx, []string{"EUW1_1", "EUW1_2", "EUW1_3"})
	require.NoError(t, err)

	putDetail(t, s, "EUW1_1", []byte(`{"info":{"frames":[]}}`))
	putDetail(t, s, "EUW1_2", nil)

	ids := func(stage Stage) []string {
		refs, err := s.ListMatchRefs(ctx, stage, 0)
		require.NoError(t, err)
		var out []string
		for _, r := range refs {
			out = append(out, r.MatchID)
		}
		return out
	}

	assert.Equal(t, []string{"EUW1_3"}, ids(StageDetail))
	assert.Equal(t, []string{"EUW1_1", "EUW1_2"}, ids(StagePerf))
	assert.Equal(t, []string{"EUW1_1", "EUW1_2"}, ids(StageMatchups))
	assert.Equal(t, []string{"EUW1_1"}, ids(StageFrames), "frames need a stored timeline")
	assert.Equal(t, []string{"EUW1_1"}, ids(StageFramesLive))
	assert.Equal(t, []string{"EUW1_2"}, ids(StageTimeline), "fetched without a timeline")

	putDetail(t, s, "EUW1_2", []byte(`{"info":{"frames":[]}}`))
	assert.Empty(t, ids(StageTimeline))
	assert.Equal(t, []string{"EUW1_1", "EUW1_2"}, ids(StageFrames))

	require.NoError(t, s.WithTx(ctx, func(w Writer) error {
		return w.MarkFramesFlattened(ctx, "EUW1_1", FramesLive)
	}))
	assert.Equal(t, []string{"EUW1_1", "EUW1_2"}, ids(StageFrames))
	assert.Equal(t, []string{"EUW1_2"}, ids(StageFramesLive))

	_, err = s.ListMatchRefs(ctx, Stage("bogus"), 0)
	assert.Error(t, err)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	_, err := s.InsertMatchRefs(ctx, []string{"KR_1"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(w Writer) error {
		require.NoError(t, w.PutMatchDetail(ctx, MatchDetail{MatchID: "KR_1", GameDurationSeconds: 1200, Payload: []byte(`{}`)}))
		require.NoError(t, w.MarkDetailFetched(ctx, "KR_1"))
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	_, err = s.GetMatchDetail(ctx, "KR_1")
	assert.True(t, errors.Is(err, ErrNotFound), "payload write rolled back")

	ref, err := s.GetMatchRef(ctx, "KR_1")
	require.NoError(t, err)
	assert.False(t, ref.DetailFetched, "flag rolled back")
}

// A crash between PutMatchDetail and MarkDetailFetched leaves the payload
// without the flag; the next run stores it again as a no-op and advances it.
func TestRestartAfterCrash(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	_, err := s.InsertMatchRefs(ctx, []string{"EUW1_9"})
	require.NoError(t, err)

	first := MatchDetail{MatchID: "EUW1_9", GameDurationSeconds: 1500, GameVersion: "14.2", WinningTeam: 200, Payload: []byte(`{"v":1}`)}
	require.NoError(t, s.WithTx(ctx, func(w Writer) error {
		return w.PutMatchDetail(ctx, first)
	}))

	refs, err := s.ListMatchRefs(ctx, StageDetail, 0)
	require.NoError(t, err)
	require.Len(t, refs, 1, "ref is reprocessed")

	second := first
	second.Payload = []byte(`{"v":2}`)
	require.NoError(t, s.WithTx(ctx, func(w Writer) error {
		if err := w.PutMatchDetail(ctx, second); err != nil {
			return err
		}
		return w.MarkDetailFetched(ctx, "EUW1_9")
	}))

	d, err := s.GetMatchDetail(ctx, "EUW1_9")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(d.Payload), "second put is a no-op")
	assert.Equal(t, 200, d.WinningTeam)
	assert.Nil(t, d.Timeline)

	ref, err := s.GetMatchRef(ctx, "EUW1_9")
	require.NoError(t, err)
	assert.True(t, ref.DetailFetched)
}

func TestPutMatchDetail_FillsMissingTimeline(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	_, err := s.InsertMatchRefs(ctx, []string{"BR1_1"})
	require.NoError(t, err)
	putDetail(t, s, "BR1_1", nil)
	putDetail(t, s, "BR1_1", []byte(`{"t":1}`))
	putDetail(t, s, "BR1_1", []byte(`{"t":2}`))

	d, err := s.GetMatchDetail(ctx, "BR1_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":1}`, string(d.Timeline))
}

func TestDerivedRows_DuplicatesIgnored(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	_, err := s.InsertMatchRefs(ctx, []string{"NA1_7"})
	require.NoError(t, err)

	perf := []PerformanceRow{
		{MatchID: "NA1_7", ParticipantID: 1, PUUID: "p1", Win: true, DurationMin: 30, Performance: 65.35, Document: []byte(`{"kills":10}`)},
		{MatchID: "NA1_7", ParticipantID: 2, PUUID: "p2", DurationMin: 30, Document: []byte(`{}`)},
	}
	frames := []FrameRow{
		{MatchID: "NA1_7", ParticipantID: 1, TimestampMS: 0, Identifier: "NA1_7_1", Winner: 1, Features: map[string]float64{"level": 1}},
		{MatchID: "NA1_7", ParticipantID: 1, TimestampMS: 60000, Identifier: "NA1_7_1", Winner: 1, Features: map[string]float64{"level": 2}},
	}
	matchups := []LaneMatchup{
		{MatchupID: "NA1_7_top", MatchID: "NA1_7", Lane: "top", GameVersion: "14.1",
			Sides: [2]MatchupSide{{Champion: "Garen", Win: true}, {Champion: "Darius"}}},
	}

	write := func() (int, int, int) {
		var np, nf, nm int
		require.NoError(t, s.WithTx(ctx, func(w Writer) error {
			var err error
			if np, err = w.PutPerformanceRows(ctx, perf); err != nil {
				return err
			}
			if nf, err = w.PutFrameRows(ctx, FramesFull, frames); err != nil {
				return err
			}
			if nm, err = w.PutLaneMatchups(ctx, matchups); err != nil {
				return err
			}
			return nil
		}))
		return np, nf, nm
	}

	np, nf, nm := write()
	assert.Equal(t, 2, np)
	assert.Equal(t, 2, nf)
	assert.Equal(t, 1, nm)

	np, nf, nm = write()
	assert.Zero(t, np)
	assert.Zero(t, nf)
	assert.Zero(t, nm)

	// Same frame key under the other variant is a distinct row.
	require.NoError(t, s.WithTx(ctx, func(w Writer) error {
		n, err := w.PutFrameRows(ctx, FramesLive, frames)
		assert.Equal(t, 2, n)
		return err
	}))

	var sides string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT sides FROM lane_matchups WHERE matchup_id = 'NA1_7_top'`).Scan(&sides))
	var decoded []MatchupSide
	require.NoError(t, json.Unmarshal([]byte(sides), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "Garen", decoded[0].Champion)
}

func TestMark_UnknownRef(t *testing.T) {
	s := newMemStore(t)
	err := s.WithTx(context.Background(), func(w Writer) error {
		return w.MarkPerfDerived(context.Background(), "NOPE_1")
	})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestChangeColumn(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	_, err := s.UpsertPlayers(ctx, []Player{{SummonerID: "s1"}})
	require.NoError(t, err)
	_, err = s.InsertMatchRefs(ctx, []string{"JP1_1"})
	require.NoError(t, err)

	require.NoError(t, s.ChangeColumn(ctx, "players", "puuid", "p-new", "s1"))
	require.NoError(t, s.ChangeColumn(ctx, "match_refs", "detail_fetched", true, "JP1_1"))

	ref, err := s.GetMatchRef(ctx, "JP1_1")
	require.NoError(t, err)
	assert.True(t, ref.DetailFetched)

	tests := []struct {
		name   string
		table  string
		column string
		value  any
	}{
		{"flag cleared", "match_refs", "detail_fetched", false},
		{"flag non bool", "match_refs", "detail_fetched", 1},
		{"unknown table", "sqlite_master", "name", "x"},
		{"unknown column", "players", "summoner_id", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ChangeColumn(ctx, tt.table, tt.column, tt.value, "JP1_1")
			assert.True(t, errors.Is(err, ErrColumnNotAllowed), "got %v", err)
		})
	}

	ref, err = s.GetMatchRef(ctx, "JP1_1")
	require.NoError(t, err)
	assert.True(t, ref.DetailFetched, "flag never goes back to false")

	err = s.ChangeColumn(ctx, "players", "tier", "MASTER", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOpen_SQLitePath(t *testing.T) {
	path := t.TempDir() + "/ingest.db"

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
	assert.Equal(t, "file:a.db?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", sqliteDSN("a.db"))
	assert.Equal(t, "file:a.db?cache=shared&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", sqliteDSN("file:a.db?cache=shared"))
}
