package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"riot-ingester/internal/riot"
	"riot-ingester/internal/store"
)

// fakeAPI answers with the configured funcs and 404s everything else.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	topPlayers  func(shard, queue string, tier riot.Tier) (*riot.LeagueList, error)
	summoner    func(shard, name string) (*riot.Summoner, error)
	account     func(cluster, name, tag string) (*riot.Account, error)
	matchIDs    func(cluster, puuid string, q riot.MatchIDQuery) ([]string, error)
	matchDetail func(cluster, id string) (*riot.MatchDetail, error)
	timeline    func(cluster, id string) (*riot.Timeline, error)
}

func (f *fakeAPI) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
}

func (f *fakeAPI) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func notFound(class riot.EndpointClass) error {
	return riot.NewAPIError(class, "test", 404, 0)
}

func (f *fakeAPI) TopPlayers(_ context.Context, shard, queue string, tier riot.Tier) (*riot.LeagueList, error) {
	f.count("TopPlayers")
	if f.topPlayers == nil {
		return nil, notFound(riot.ClassLeague)
	}
	return f.topPlayers(shard, queue, tier)
}

func (f *fakeAPI) SummonerByName(_ context.Context, shard, name string) (*riot.Summoner, error) {
	f.count("SummonerByName")
	if f.summoner == nil {
		return nil, notFound(riot.ClassSummoner)
	}
	return f.summoner(shard, name)
}

func (f *fakeAPI) AccountByRiotID(_ context.Context, cluster, name, tag string) (*riot.Account, error) {
	f.count("AccountByRiotID")
	if f.account == nil {
		return nil, notFound(riot.ClassAccount)
	}
	return f.account(cluster, name, tag)
}

func (f *fakeAPI) MatchIDsByPUUID(_ context.Context, cluster, puuid string, q riot.MatchIDQuery) ([]string, error) {
	f.count("MatchIDsByPUUID")
	if f.matchIDs == nil {
		return nil, notFound(riot.ClassMatchList)
	}
	return f.matchIDs(cluster, puuid, q)
}

func (f *fakeAPI) MatchDetail(_ context.Context, cluster, id string) (*riot.MatchDetail, error) {
	f.count("MatchDetail")
	if f.matchDetail == nil {
		return nil, notFound(riot.ClassMatch)
	}
	return f.matchDetail(cluster, id)
}

func (f *fakeAPI) MatchTimeline(_ context.Context, cluster, id string) (*riot.Timeline, error) {
	f.count("MatchTimeline")
	if f.timeline == nil {
		return nil, notFound(riot.ClassTimeline)
	}
	return f.timeline(cluster, id)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	s, err := store.NewSQL(context.Background(), store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

var lanes = []string{"TOP", "JUNGLE", "MIDDLE", "BOTTOM", "UTILITY"}

// participantJSON builds a plausible participant record. Participants 1-5
// play for team 100.
func participantJSON(id int, winningTeam int) map[string]any {
	team := 100
	if id > 5 {
		team = 200
	}
	return map[string]any{
		"participantId":               id,
		"puuid":                       fmt.Sprintf("puuid-%d", id),
		"summonerName":                fmt.Sprintf("player%d", id),
		"championName":                fmt.Sprintf("Champ%d", id),
		"champLevel":                  15,
		"teamId":                      team,
		"individualPosition":          lanes[(id-1)%5],
		"teamPosition":                lanes[(id-1)%5],
		"win":                         team == winningTeam,
		"kills":                       10,
		"deaths":                      2,
		"assists":                     5,
		"goldEarned":                  12000,
		"totalDamageDealt":            30000,
		"totalDamageDealtToChampions": 15000,
		"totalMinionsKilled":          180,
		"visionScore":                 20,
		"challenges":                  map[string]any{"kda": 7.5},
		"perks":                       map[string]any{"styles": []any{}},
		"allInPings":                  3,
		"onMyWayPings":                1,
		"eligibleForProgression":      true,
		"doubleKills":                 2,
	}
}

// matchFixture returns a stored-form match of ten participants.
func matchFixture(t *testing.T, matchID string, durationSec int, edit func(ps []map[string]any)) *riot.MatchDetail {
	t.Helper()

	ps := make([]map[string]any, 10)
	for i := range ps {
		ps[i] = participantJSON(i+1, 100)
	}
	if edit != nil {
		edit(ps)
	}
	raw, err := json.Marshal(map[string]any{
		"metadata": map[string]any{"matchId": matchID},
		"info": map[string]any{
			"gameDuration":     durationSec,
			"gameEndTimestamp": time.Now().UnixMilli(),
			"gameVersion":      "14.1.555.1234",
			"queueId":          420,
			"teams":            []any{map[string]any{"teamId": 100, "win": true}, map[string]any{"teamId": 200, "win": false}},
			"participants":     ps,
		},
	})
	require.NoError(t, err)

	d, err := riot.ParseMatchDetail(raw)
	require.NoError(t, err)
	return d
}

// timelineFixture returns a two-frame timeline whose last event is lastEvent.
func timelineFixture(t *testing.T, matchID string, lastEvent map[string]any) *riot.Timeline {
	t.Helper()

	frame := func(ts int64, events []any) map[string]any {
		pfs := map[string]any{}
		for id := 1; id <= 10; id++ {
			pfs[fmt.Sprint(id)] = map[string]any{
				"participantId": id,
				"level":         id,
				"xp":            100 * id,
				"totalGold":     500 + id,
				"goldPerSecond": 2,
				"minionsKilled": 3,
				"championStats": map[string]any{
					"abilityPower": 10, "armor": 30, "armorPen": 5, "health": 600, "healthMax": 650,
					"movementSpeed": 345, "power": 300, "powerMax": 400,
				},
				"damageStats": map[string]any{"totalDamageDone": 1000 * id},
			}
		}
		return map[string]any{"timestamp": ts, "participantFrames": pfs, "events": events}
	}

	raw, err := json.Marshal(map[string]any{
		"metadata": map[string]any{"matchId": matchID},
		"info": map[string]any{
			"frameInterval": 60000,
			"frames": []any{
				frame(0, []any{map[string]any{"type": "PAUSE_END", "timestamp": 0}}),
				frame(60000, []any{
					map[string]any{"type": "CHAMPION_KILL", "timestamp": 59000},
					lastEvent,
				}),
			},
		},
	})
	require.NoError(t, err)

	tl, err := riot.ParseTimeline(raw)
	require.NoError(t, err)
	return tl
}

func gameEnd(winningTeam int) map[string]any {
	return map[string]any{"type": riot.EventGameEnd, "timestamp": 60500, "winningTeam": winningTeam}
}

// storeFetched stores a match as the fetcher would.
func storeFetched(t *testing.T, st store.Store, d *riot.MatchDetail, tl *riot.Timeline) {
	t.Helper()
	ctx := context.Background()

	id := d.Metadata.MatchID
	_, err := st.InsertMatchRefs(ctx, []string{id})
	require.NoError(t, err)

	rec, err := detailRecord(id, d, tl)
	require.NoError(t, err)
	require.NoError(t, st.WithTx(ctx, func(w store.Writer) error {
		if err := w.PutMatchDetail(ctx, rec); err != nil {
			return err
		}
		return w.MarkDetailFetched(ctx, id)
	}))
}
