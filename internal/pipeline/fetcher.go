package pipeline

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"riot-ingester/internal/metrics"
	"riot-ingester/internal/region"
	"riot-ingester/internal/riot"
	"riot-ingester/internal/store"
)

const (
	// Throttled retries of one call before the ref is left for a later run.
	DefaultMaxThrottleWaits = 5

	fallbackRetryAfter = time.Second
)

// Archiver receives every fetched payload pair after it is committed.
type Archiver interface {
	Append(matchID string, detail, timeline []byte) error
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Workers          int
	Timelines        bool
	MaxThrottleWaits int
	Archive          Archiver // optional
}

// Fetcher downloads match payloads for refs that lack them.
type Fetcher struct {
	api    RiotAPI
	store  store.Store
	logger *zap.Logger
	cfg    FetcherConfig
}

// NewFetcher creates a detail fetcher.
func NewFetcher(api RiotAPI, st store.Store, logger *zap.Logger, cfg FetcherConfig) *Fetcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxThrottleWaits <= 0 {
		cfg.MaxThrottleWaits = DefaultMaxThrottleWaits
	}
	return &Fetcher{api: api, store: st, logger: logger.Named("fetcher"), cfg: cfg}
}

// Run fetches every ref still marked detail_needed, up to limit (0 for all).
func (f *Fetcher) Run(ctx context.Context, limit int) (Stats, error) {
	c := newCounter(StageMatchDetail)

	refs, err := f.store.ListMatchRefs(ctx, store.StageDetail, limit)
	if err != nil {
		return c.stats(), storageErr(err, "list match refs")
	}
	f.logger.Info("fetching match details", zap.Int("refs", len(refs)), zap.Int("workers", f.cfg.Workers))

	jobs := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, r := range refs {
			select {
			case jobs <- r.MatchID:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	err = f.work(gctx, g, jobs, false, c)
	return c.stats(), finish(ctx, err)
}

// Consume fetches ids from in until it is closed. Ids whose detail is already
// stored are skipped.
func (f *Fetcher) Consume(ctx context.Context, in <-chan string) (Stats, error) {
	c := newCounter(StageMatchDetail)

	g, gctx := errgroup.WithContext(ctx)
	err := f.work(gctx, g, in, true, c)
	return c.stats(), finish(ctx, err)
}

func (f *Fetcher) work(ctx context.Context, g *errgroup.Group, jobs <-chan string, checkStored bool, c *counter) error {
	for i := 0; i < f.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id, ok := <-jobs:
					if !ok {
						return nil
					}
					metrics.QueueDepth.WithLabelValues(queueMatchIDs).Set(float64(len(jobs)))
					if checkStored {
						ref, err := f.store.GetMatchRef(ctx, id)
						if err != nil && !errors.Is(err, store.ErrNotFound) {
							return storageErr(err, "get match ref")
						}
						if ref != nil && ref.DetailFetched {
							c.skip()
							continue
						}
					}
					if err := f.fetch(ctx, id, c); err != nil {
						return err
					}
				}
			}
		})
	}
	return g.Wait()
}

// finish folds a shutdown into ctx.Err() so callers can tell it from failures.
func finish(ctx context.Context, err error) error {
	if ctx.Err() != nil && (err == nil || Interrupted(err)) {
		return ctx.Err()
	}
	return err
}

// fetch downloads and stores one match. Only fatal errors are returned.
func (f *Fetcher) fetch(ctx context.Context, matchID string, c *counter) error {
	logger := f.logger.With(zap.String("match_id", matchID))

	cluster, err := region.ClusterForMatch(matchID)
	if err != nil {
		logger.Warn("match id has no known shard, skipping", zap.Error(err))
		c.skip()
		return nil
	}
	logger = logger.With(zap.String("cluster", cluster))

	var detail *riot.MatchDetail
	err = f.throttled(ctx, logger, func() error {
		var err error
		detail, err = f.api.MatchDetail(ctx, cluster, matchID)
		return err
	})
	if err != nil {
		return f.skipOrAbort(logger, err, c)
	}

	var timeline *riot.Timeline
	if f.cfg.Timelines {
		err = f.throttled(ctx, logger, func() error {
			var err error
			timeline, err = f.api.MatchTimeline(ctx, cluster, matchID)
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, riot.ErrNotFound):
			logger.Info("timeline not available, storing detail without it")
		default:
			return f.skipOrAbort(logger, err, c)
		}
	}

	rec, err := detailRecord(matchID, detail, timeline)
	if err != nil {
		return f.skipOrAbort(logger, err, c)
	}

	err = f.store.WithTx(ctx, func(w store.Writer) error {
		if err := w.PutMatchDetail(ctx, rec); err != nil {
			return err
		}
		return w.MarkDetailFetched(ctx, matchID)
	})
	if err != nil {
		return storageErr(err, "store match detail")
	}
	c.ok(1)

	if f.cfg.Archive != nil {
		if err := f.cfg.Archive.Append(matchID, rec.Payload, rec.Timeline); err != nil {
			logger.Warn("archive append failed", zap.Error(err))
		}
	}
	logger.Debug("match stored", zap.Bool("timeline", rec.Timeline != nil))
	return nil
}

// Timelines fetches the missing timeline of matches stored without one, up
// to limit (0 for all). The stored detail is kept as is.
func (f *Fetcher) Timelines(ctx context.Context, limit int) (Stats, error) {
	c := newCounter(StageMatchTimeline)

	refs, err := f.store.ListMatchRefs(ctx, store.StageTimeline, limit)
	if err != nil {
		return c.stats(), storageErr(err, "list match refs")
	}
	f.logger.Info("backfilling timelines", zap.Int("refs", len(refs)), zap.Int("workers", f.cfg.Workers))

	jobs := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, r := range refs {
			select {
			case jobs <- r.MatchID:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for i := 0; i < f.cfg.Workers; i++ {
		g.Go(func() error {
			for id := range jobs {
				if err := f.backfill(gctx, id, c); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err = g.Wait()
	return c.stats(), finish(ctx, err)
}

func (f *Fetcher) backfill(ctx context.Context, matchID string, c *counter) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logger := f.logger.With(zap.String("match_id", matchID))

	cluster, err := region.ClusterForMatch(matchID)
	if err != nil {
		logger.Warn("match id has no known shard, skipping", zap.Error(err))
		c.skip()
		return nil
	}

	rec, err := f.store.GetMatchDetail(ctx, matchID)
	if errors.Is(err, store.ErrNotFound) {
		c.skip()
		return nil
	}
	if err != nil {
		return storageErr(err, "get match detail")
	}

	var timeline *riot.Timeline
	err = f.throttled(ctx, logger, func() error {
		var err error
		timeline, err = f.api.MatchTimeline(ctx, cluster, matchID)
		return err
	})
	if err != nil {
		return f.skipOrAbort(logger, err, c)
	}

	if rec.Timeline, err = timelinePayload(timeline); err != nil {
		return f.skipOrAbort(logger, err, c)
	}

	err = f.store.WithTx(ctx, func(w store.Writer) error {
		return w.PutMatchDetail(ctx, *rec)
	})
	if err != nil {
		return storageErr(err, "store timeline")
	}
	c.ok(1)
	logger.Debug("timeline stored")
	return nil
}

// throttled runs call, waiting out the reported retry-after on ErrThrottled.
func (f *Fetcher) throttled(ctx context.Context, logger *zap.Logger, call func() error) error {
	for attempt := 1; ; attempt++ {
		err := call()
		if err == nil || !errors.Is(err, riot.ErrThrottled) || attempt > f.cfg.MaxThrottleWaits {
			return err
		}

		wait := riot.RetryAfter(err)
		if wait <= 0 {
			wait = fallbackRetryAfter
		}
		logger.Info("throttled, retrying", zap.Duration("retry_after", wait), zap.Int("attempt", attempt))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Mark(ctx.Err(), riot.ErrCancelled)
		case <-timer.C:
		}
	}
}

func (f *Fetcher) skipOrAbort(logger *zap.Logger, err error, c *counter) error {
	if fatal(err) {
		return err
	}

	fields := []zap.Field{zap.String("kind", riot.Kind(err)), zap.Int("status", riot.Status(err)), zap.Error(err)}
	switch {
	case errors.Is(err, riot.ErrNotFound):
		logger.Info("match not found, skipping", fields...)
		c.skip()
	case errors.Is(err, riot.ErrMalformed):
		logger.Warn("malformed payload, skipping", fields...)
		c.skip()
	default:
		logger.Warn("fetch failed, leaving for a later run", fields...)
		c.fail()
	}
	return nil
}

func detailRecord(matchID string, d *riot.MatchDetail, tl *riot.Timeline) (store.MatchDetail, error) {
	payload := d.Raw
	if len(payload) == 0 {
		var err error
		if payload, err = json.Marshal(d); err != nil {
			return store.MatchDetail{}, errors.Wrap(err, "encode match detail")
		}
	}

	rec := store.MatchDetail{
		MatchID:             matchID,
		GameDurationSeconds: d.Info.DurationSeconds(),
		GameVersion:         d.Info.GameVersion,
		WinningTeam:         d.Info.WinningTeam(),
		Payload:             payload,
	}
	if rec.GameDurationSeconds <= 0 {
		return store.MatchDetail{}, riot.Malformed(matchID, "info.gameDuration")
	}

	if tl != nil {
		var err error
		if rec.Timeline, err = timelinePayload(tl); err != nil {
			return store.MatchDetail{}, err
		}
	}
	return rec, nil
}

func timelinePayload(tl *riot.Timeline) ([]byte, error) {
	if len(tl.Raw) > 0 {
		return tl.Raw, nil
	}
	b, err := json.Marshal(tl)
	if err != nil {
		return nil, errors.Wrap(err, "encode timeline")
	}
	return b, nil
}
