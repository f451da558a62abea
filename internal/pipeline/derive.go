package pipeline

import (
	"context"

	"github.com/alitto/pond/v2"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"riot-ingester/internal/riot"
	"riot-ingester/internal/store"
)

// writeFunc persists the rows derived from one match together with its mark.
type writeFunc func(ctx context.Context, w store.Writer) error

// buildFunc derives the rows of one stored match. It returns the number of
// rows and the write that stores them, or a riot.ErrMalformed error when the
// payload cannot be derived from.
type buildFunc func(d *store.MatchDetail) (int, writeFunc, error)

// Deriver runs the derivations computed from stored match payloads.
type Deriver struct {
	store   store.Store
	logger  *zap.Logger
	workers int
}

// NewDeriver creates a deriver processing workers matches at a time.
func NewDeriver(st store.Store, logger *zap.Logger, workers int) *Deriver {
	if workers <= 0 {
		workers = 1
	}
	return &Deriver{store: st, logger: logger.Named("deriver"), workers: workers}
}

// Performance derives performance rows for every fetched match lacking them.
func (d *Deriver) Performance(ctx context.Context, limit int) (Stats, error) {
	return d.run(ctx, StageDerivePerformance, store.StagePerf, limit, buildPerformance)
}

// Frames flattens the timelines of every fetched match lacking rows of variant.
func (d *Deriver) Frames(ctx context.Context, variant store.FrameVariant, limit int) (Stats, error) {
	stage, refs := StageDeriveFrames, store.StageFrames
	if variant == store.FramesLive {
		stage, refs = StageDeriveFramesLive, store.StageFramesLive
	}
	return d.run(ctx, stage, refs, limit, func(m *store.MatchDetail) (int, writeFunc, error) {
		return buildFrames(m, variant)
	})
}

// Matchups extracts lane matchups for every fetched match lacking them.
func (d *Deriver) Matchups(ctx context.Context, limit int) (Stats, error) {
	return d.run(ctx, StageDeriveMatchups, store.StageMatchups, limit, buildMatchups)
}

func (d *Deriver) run(ctx context.Context, stage string, refs store.Stage, limit int, build buildFunc) (Stats, error) {
	c := newCounter(stage)
	logger := d.logger.With(zap.String("stage", stage))

	todo, err := d.store.ListMatchRefs(ctx, refs, limit)
	if err != nil {
		return c.stats(), storageErr(err, "list match refs")
	}
	logger.Info("deriving", zap.Int("matches", len(todo)), zap.Int("workers", d.workers))

	pool := pond.NewPool(d.workers)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, ref := range todo {
		matchID := ref.MatchID
		group.SubmitErr(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return d.deriveOne(groupCtx, logger.With(zap.String("match_id", matchID)), matchID, build, c)
		})
	}

	err = group.Wait()
	stats := c.stats()
	if err != nil && !errors.Is(err, pond.ErrGroupStopped) {
		return stats, finish(ctx, err)
	}
	if ctx.Err() != nil {
		return stats, ctx.Err()
	}
	return stats, nil
}

func (d *Deriver) deriveOne(ctx context.Context, logger *zap.Logger, matchID string, build buildFunc, c *counter) error {
	detail, err := d.store.GetMatchDetail(ctx, matchID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("fetched match has no stored detail, skipping")
		c.skip()
		return nil
	}
	if err != nil {
		return storageErr(err, "get match detail")
	}

	rows, write, err := build(detail)
	if err != nil {
		if errors.Is(err, riot.ErrMalformed) {
			logger.Warn("malformed match, skipping", zap.String("kind", riot.Kind(err)), zap.Error(err))
			c.skip()
			return nil
		}
		return err
	}

	if err := d.store.WithTx(ctx, func(w store.Writer) error { return write(ctx, w) }); err != nil {
		return storageErr(err, "store derived rows")
	}
	c.ok(1)
	logger.Debug("derived", zap.Int("rows", rows))
	return nil
}
