package pipeline

import (
	"context"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"riot-ingester/internal/riot"
	"riot-ingester/internal/store"
)

// Ladder crawls the apex ladders of every shard and queue into the player table.
type Ladder struct {
	api     RiotAPI
	store   store.Store
	logger  *zap.Logger
	workers int
}

// NewLadder creates a ladder crawler running workers combinations at a time.
func NewLadder(api RiotAPI, st store.Store, logger *zap.Logger, workers int) *Ladder {
	if workers <= 0 {
		workers = 1
	}
	return &Ladder{api: api, store: st, logger: logger.Named("ladder"), workers: workers}
}

// Run crawls every shard x queue combination once. A failing tier or
// combination is logged and skipped; storage failures and a rejected key
// abort the pass.
func (l *Ladder) Run(ctx context.Context, shards, queues []string) (Stats, error) {
	c := newCounter(StagePlayerList)

	pool := pond.NewPool(l.workers)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, shard := range shards {
		for _, queue := range queues {
			shard, queue := shard, queue
			group.SubmitErr(func() error {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				return l.crawl(groupCtx, shard, queue, c)
			})
		}
	}

	err := group.Wait()
	stats := c.stats()
	if err != nil && !errors.Is(err, pond.ErrGroupStopped) {
		return stats, err
	}
	if ctx.Err() != nil {
		return stats, ctx.Err()
	}
	return stats, nil
}

func (l *Ladder) crawl(ctx context.Context, shard, queue string, c *counter) error {
	logger := l.logger.With(zap.String("shard", shard), zap.String("queue", queue))

	var players []store.Player
	for _, tier := range riot.ApexTiers {
		list, err := l.api.TopPlayers(ctx, shard, queue, tier)
		if err != nil {
			if fatal(err) {
				return err
			}
			logger.Warn("tier fetch failed, skipping",
				zap.String("tier", string(tier)),
				zap.String("kind", riot.Kind(err)),
				zap.Int("status", riot.Status(err)),
				zap.Error(err))
			c.fail()
			continue
		}

		for _, e := range list.Entries {
			if e.SummonerID == "" {
				c.skip()
				continue
			}
			players = append(players, playerFromEntry(e, tier, shard, queue))
		}
		logger.Debug("tier fetched", zap.String("tier", string(tier)), zap.Int("entries", len(list.Entries)))
	}

	if len(players) == 0 {
		return nil
	}
	if _, err := l.store.UpsertPlayers(ctx, players); err != nil {
		return storageErr(err, "upsert players")
	}
	c.ok(len(players))
	logger.Info("ladder stored", zap.Int("players", len(players)))
	return nil
}

func playerFromEntry(e riot.LeagueItem, tier riot.Tier, shard, queue string) store.Player {
	return store.Player{
		SummonerID:    e.SummonerID,
		SummonerName:  e.SummonerName,
		PUUID:         e.PUUID,
		Tier:          strings.ToUpper(string(tier)),
		Rank:          e.Rank,
		LeaguePoints:  e.LeaguePoints,
		Wins:          e.Wins,
		Losses:        e.Losses,
		Veteran:       e.Veteran,
		Inactive:      e.Inactive,
		FreshBlood:    e.FreshBlood,
		HotStreak:     e.HotStreak,
		RequestRegion: shard,
		Queue:         queue,
	}
}
