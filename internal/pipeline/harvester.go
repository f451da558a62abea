package pipeline

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"riot-ingester/internal/metrics"
	"riot-ingester/internal/region"
	"riot-ingester/internal/riot"
	"riot-ingester/internal/store"
)

const (
	// Match-v5 returns at most 100 ids per call.
	matchIDPageSize = 100

	DefaultMaxMatchIDs = 990

	// In-run dedup filter sizing: ~1M ids at 0.1% false positives.
	seenCapacity = 1_000_000
	seenFPRate   = 0.001

	rankedType = "ranked"

	queueMatchIDs = "match-ids"
)

// errPlayerGone marks a player deleted because neither lookup knows it anymore.
var errPlayerGone = errors.New("player no longer resolves")

// Harvester turns players into match refs.
type Harvester struct {
	api     RiotAPI
	store   store.Store
	logger  *zap.Logger
	workers int
	maxIDs  int

	// seen limits forwarding to ids not yet queued this run. The store does
	// the real diff; an id the filter wrongly reports as seen is still
	// inserted and picked up by the backlog fetch.
	seenMu sync.Mutex
	seen   *bloom.BloomFilter
}

// NewHarvester creates a harvester with workers concurrent players and at
// most maxIDs match ids per player.
func NewHarvester(api RiotAPI, st store.Store, logger *zap.Logger, workers, maxIDs int) *Harvester {
	if workers <= 0 {
		workers = 1
	}
	if maxIDs <= 0 {
		maxIDs = DefaultMaxMatchIDs
	}
	return &Harvester{
		api:     api,
		store:   st,
		logger:  logger.Named("harvester"),
		workers: workers,
		maxIDs:  maxIDs,
		seen:    bloom.NewWithEstimates(seenCapacity, seenFPRate),
	}
}

// Run harvests match ids for the players selected by filter. Every returned
// id is offered to the store; Processed counts the refs it did not know.
// When out is not nil ids not yet queued this run are also sent on it; Run
// never closes out.
func (h *Harvester) Run(ctx context.Context, filter store.PlayerFilter, out chan<- string) (Stats, error) {
	c := newCounter(StageMatchList)

	filter.Shuffle = true
	players, err := h.store.ListPlayers(ctx, filter)
	if err != nil {
		return c.stats(), storageErr(err, "list players")
	}
	h.logger.Info("harvesting match ids", zap.Int("players", len(players)), zap.Int("workers", h.workers))

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan store.Player)

	g.Go(func() error {
		defer close(jobs)
		for _, p := range players {
			select {
			case jobs <- p:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for i := 0; i < h.workers; i++ {
		g.Go(func() error {
			for p := range jobs {
				if err := h.harvest(gctx, p, out, c); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err = g.Wait()
	stats := c.stats()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return stats, err
}

// harvest handles one player. Only fatal errors are returned.
func (h *Harvester) harvest(ctx context.Context, p store.Player, out chan<- string, c *counter) error {
	logger := h.logger.With(zap.String("summoner_id", p.SummonerID), zap.String("shard", p.RequestRegion))

	puuid := p.PUUID
	if puuid == "" {
		var err error
		puuid, err = h.resolve(ctx, p)
		switch {
		case err == nil:
		case fatal(err):
			return err
		case errors.Is(err, errPlayerGone):
			logger.Info("player no longer resolves, deleted")
			c.skip()
			return nil
		default:
			logger.Warn("identity lookup failed, skipping", zap.String("kind", riot.Kind(err)), zap.Error(err))
			c.fail()
			return nil
		}
	}

	cluster, err := region.Cluster(p.RequestRegion)
	if err != nil {
		logger.Warn("player has unknown region, skipping", zap.Error(err))
		c.skip()
		return nil
	}

	found := 0
	for start := 0; start < h.maxIDs; start += matchIDPageSize {
		count := min(matchIDPageSize, h.maxIDs-start)

		ids, err := h.api.MatchIDsByPUUID(ctx, cluster, puuid, riot.MatchIDQuery{Type: rankedType, Start: start, Count: count})
		if err != nil {
			if fatal(err) {
				return err
			}
			logger.Warn("match id page failed, moving on",
				zap.Int("start", start),
				zap.String("kind", riot.Kind(err)),
				zap.Error(err))
			c.fail()
			break
		}

		if len(ids) > 0 {
			inserted, err := h.store.InsertMatchRefs(ctx, ids)
			if err != nil {
				return storageErr(err, "insert match refs")
			}
			found += inserted
			if err := forward(ctx, out, h.unseen(ids)); err != nil {
				return err
			}
		}

		if len(ids) < count {
			break
		}
	}

	c.ok(found)
	logger.Debug("player harvested", zap.Int("match_ids", found))
	return nil
}

// resolve looks up a missing puuid by summoner name, then by Riot ID, and
// persists it. A player unknown to both lookups is deleted.
func (h *Harvester) resolve(ctx context.Context, p store.Player) (string, error) {
	s, err := h.api.SummonerByName(ctx, p.RequestRegion, p.SummonerName)
	if err == nil {
		id := store.Identity{
			PUUID:              s.PUUID,
			SummonerName:       s.Name,
			EncryptedAccountID: s.AccountID,
			ProfileIconID:      s.ProfileIconID,
			SummonerLevel:      s.SummonerLevel,
		}
		if err := h.store.UpdatePlayerIdentity(ctx, p.SummonerID, id); err != nil {
			return "", storageErr(err, "update player identity")
		}
		return s.PUUID, nil
	}
	if !errors.Is(err, riot.ErrNotFound) {
		return "", err
	}

	cluster, err := region.AccountCluster(p.RequestRegion)
	if err != nil {
		return "", err
	}
	acct, err := h.api.AccountByRiotID(ctx, cluster, p.SummonerName, region.Tagline(p.RequestRegion))
	if errors.Is(err, riot.ErrNotFound) {
		if err := h.store.DeletePlayer(ctx, p.SummonerID); err != nil {
			return "", storageErr(err, "delete player")
		}
		return "", errPlayerGone
	}
	if err != nil {
		return "", err
	}

	if err := h.store.UpdatePlayerIdentity(ctx, p.SummonerID, store.Identity{PUUID: acct.PUUID}); err != nil {
		return "", storageErr(err, "update player identity")
	}
	return acct.PUUID, nil
}

func (h *Harvester) unseen(ids []string) []string {
	h.seenMu.Lock()
	defer h.seenMu.Unlock()

	var novel []string
	for _, id := range ids {
		if !h.seen.TestOrAddString(id) {
			novel = append(novel, id)
		}
	}
	return novel
}

func forward(ctx context.Context, out chan<- string, ids []string) error {
	if out == nil {
		return nil
	}
	for _, id := range ids {
		select {
		case out <- id:
			metrics.QueueDepth.WithLabelValues(queueMatchIDs).Set(float64(len(out)))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
