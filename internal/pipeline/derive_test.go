package pipeline

import (
	"context"
	"strconv"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"riot-ingester/internal/riot"
	"riot-ingester/internal/store"
)

func TestPerformance_WorkedExample(t *testing.T) {
	p := riot.Participant{Kills: 10, Assists: 5, Deaths: 2, ChampLevel: 15, TotalDamageDealt: 30000, GoldEarned: 12000}
	f := ParticipantFeatures(p, 1800.0/60)

	assert.InDelta(t, 2.0/30, f.DPM, 1e-12)
	assert.InDelta(t, 0.5, f.KAPM, 1e-12)
	assert.InDelta(t, 0.5, f.LPM, 1e-12)
	assert.InDelta(t, 1000, f.TDPM, 1e-9)
	assert.InDelta(t, 400, f.GPM, 1e-9)
	assert.InDelta(t, 0.6535, f.Score(), 1e-9)
	assert.InDelta(t, 65.35, f.Performance(), 1e-9)
}

func TestBuildPerformance_DropsImplausibleLevel(t *testing.T) {
	d := matchFixture(t, "NA1_7", 60, func(ps []map[string]any) {
		ps[3]["champLevel"] = 100
	})
	rec, err := detailRecord("NA1_7", d, nil)
	require.NoError(t, err)

	n, _, err := buildPerformance(&rec)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestPerformanceDocument_StripsKeys(t *testing.T) {
	d := matchFixture(t, "EUW1_3", 1800, nil)
	p := d.Info.Participants[0]
	f := ParticipantFeatures(p, 30)

	b, err := performanceDocument(p, store.PerformanceRow{
		MatchID: "EUW1_3", ParticipantID: p.ParticipantID, DurationMin: 30,
		F1: f.DPM, F2: f.KAPM, F3: f.LPM, F4: f.TDPM, F5: f.GPM, Performance: f.Performance(),
	})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))

	for _, k := range []string{"challenges", "perks", "allInPings", "onMyWayPings", "eligibleForProgression"} {
		assert.NotContains(t, doc, k)
	}
	assert.Equal(t, "EUW1_3", doc["match_id"])
	assert.EqualValues(t, 1, doc["participant_id"])
	assert.EqualValues(t, 30, doc["duration_min"])
	assert.InDelta(t, 65.35, doc["calculated_player_performance"], 1e-9)
	assert.EqualValues(t, 2, doc["doubleKills"])
	assert.Equal(t, "Champ1", doc["championName"])
}

func TestDeriver_Performance(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	storeFetched(t, st, matchFixture(t, "NA1_1", 1800, nil), nil)

	stats, err := NewDeriver(st, zap.NewNop(), 2).Performance(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Processed)

	ref, err := st.GetMatchRef(ctx, "NA1_1")
	require.NoError(t, err)
	assert.True(t, ref.PerformanceDerived)

	stats, err = NewDeriver(st, zap.NewNop(), 2).Performance(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Processed)
}

func TestTimelineWinner(t *testing.T) {
	tl := timelineFixture(t, "KR_1", gameEnd(200))
	w, err := TimelineWinner("KR_1", tl)
	require.NoError(t, err)
	assert.Equal(t, 200, w)

	tl = timelineFixture(t, "KR_2", map[string]any{"type": "CHAMPION_KILL", "timestamp": 60000})
	_, err = TimelineWinner("KR_2", tl)
	assert.ErrorIs(t, err, riot.ErrMalformed)

	tl = timelineFixture(t, "KR_3", map[string]any{"type": riot.EventGameEnd, "timestamp": 60000})
	_, err = TimelineWinner("KR_3", tl)
	assert.ErrorIs(t, err, riot.ErrMalformed)
}

func TestFlattenTimeline_WinnerLabels(t *testing.T) {
	tl := timelineFixture(t, "EUW1_5", gameEnd(200))

	rows, err := FlattenTimeline("EUW1_5", tl, store.FramesFull)
	require.NoError(t, err)
	require.Len(t, rows, 20)

	for _, r := range rows {
		want := 0
		if r.ParticipantID >= 6 {
			want = 1
		}
		assert.Equal(t, want, r.Winner, "participant %d", r.ParticipantID)
		assert.Equal(t, "EUW1_5_"+strconv.Itoa(r.ParticipantID), r.Identifier)
		assert.Len(t, r.Features, len(fullColumns))
	}

	last := rows[len(rows)-1]
	assert.EqualValues(t, 60000, last.TimestampMS)
	assert.EqualValues(t, 10, last.Features["level"])
	assert.EqualValues(t, 10000, last.Features["totalDamageDone"])
	assert.EqualValues(t, 650, last.Features["healthMax"])
}

func TestFlattenTimeline_LiveColumns(t *testing.T) {
	tl := timelineFixture(t, "NA1_5", gameEnd(100))

	rows, err := FlattenTimeline("NA1_5", tl, store.FramesLive)
	require.NoError(t, err)
	require.Len(t, rows, 20)

	f := rows[0].Features
	assert.Len(t, f, 22)
	assert.EqualValues(t, 5, f["armorPenetrationFlat"])
	assert.EqualValues(t, 600, f["currentHealth"])
	assert.EqualValues(t, 650, f["maxHealth"])
	assert.EqualValues(t, 345, f["moveSpeed"])
	assert.EqualValues(t, 300, f["resourceValue"])
	assert.EqualValues(t, 400, f["resourceMax"])
	assert.NotContains(t, f, "health")
	assert.NotContains(t, f, "totalDamageDone")
	assert.Equal(t, 1, rows[0].Winner)
}

func TestFlattenTimeline_SkipsMissingParticipant(t *testing.T) {
	tl := timelineFixture(t, "BR1_1", gameEnd(100))
	delete(tl.Info.Frames[0].ParticipantFrames, "4")

	rows, err := FlattenTimeline("BR1_1", tl, store.FramesFull)
	require.NoError(t, err)
	assert.Len(t, rows, 19)
}

func TestColumnNames(t *testing.T) {
	full := ColumnNames(store.FramesFull)
	assert.Equal(t, "timestamp", full[0])
	assert.Contains(t, full, "goldPerSecond")
	assert.Contains(t, full, "trueDamageTaken")

	live := ColumnNames(store.FramesLive)
	assert.Len(t, live, 22)
	assert.Contains(t, live, "resourceRegenRate")
}

func TestDeriver_FramesSkipMalformedTimeline(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	storeFetched(t, st, matchFixture(t, "NA1_1", 1800, nil), timelineFixture(t, "NA1_1", gameEnd(100)))
	storeFetched(t, st, matchFixture(t, "NA1_2", 1800, nil), timelineFixture(t, "NA1_2", map[string]any{"type": "ITEM_PURCHASED"}))

	stats, err := NewDeriver(st, zap.NewNop(), 2).Frames(ctx, store.FramesFull, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Processed)
	assert.EqualValues(t, 1, stats.Skipped)

	good, err := st.GetMatchRef(ctx, "NA1_1")
	require.NoError(t, err)
	assert.True(t, good.FramesFlattened)
	assert.False(t, good.FramesFlattenedLive)

	bad, err := st.GetMatchRef(ctx, "NA1_2")
	require.NoError(t, err)
	assert.False(t, bad.FramesFlattened)
}

func TestLaneMatchups(t *testing.T) {
	d := matchFixture(t, "EUW1_9", 1800, func(ps []map[string]any) {
		ps[1]["individualPosition"] = "Invalid"
	})

	ups := LaneMatchups(d, "EUW1_9")
	require.Len(t, ups, 4)

	var ids []string
	for _, m := range ups {
		ids = append(ids, m.MatchupID)
		assert.Equal(t, "14.1.555.1234", m.GameVersion)
		assert.True(t, m.Sides[0].Win)
		assert.False(t, m.Sides[1].Win)
	}
	assert.Equal(t, []string{"EUW1_9_top", "EUW1_9_middle", "EUW1_9_bottom", "EUW1_9_utility"}, ids)

	top := ups[0]
	assert.Equal(t, "Champ1", top.Sides[0].Champion)
	assert.Equal(t, "Champ6", top.Sides[1].Champion)
	assert.EqualValues(t, 15000, top.Sides[0].TotalDamageDealtToChampions)
}

func TestDeriver_Matchups(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	storeFetched(t, st, matchFixture(t, "KR_4", 1800, nil), nil)

	stats, err := NewDeriver(st, zap.NewNop(), 1).Matchups(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Processed)

	ref, err := st.GetMatchRef(ctx, "KR_4")
	require.NoError(t, err)
	assert.True(t, ref.MatchupsExtracted)
}
