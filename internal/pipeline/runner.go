package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"riot-ingester/internal/riot"
	"riot-ingester/internal/store"
)

// ErrUnknownStage is returned by Run for a stage name it does not know.
var ErrUnknownStage = errors.New("unknown stage")

const notifyTimeout = 15 * time.Second

// Notifier is told about finished runs and rejected keys.
type Notifier interface {
	RunFinished(ctx context.Context, runID, stage string, stats []Stats, runErr error) error
	KeyRejected(ctx context.Context, status int) error
}

// RunnerConfig holds the knobs of every stage.
type RunnerConfig struct {
	RunID  string
	Shards []string
	Queues []string

	LadderWorkers  int
	HarvestWorkers int
	FetchWorkers   int
	DeriveWorkers  int

	QueueSize      int
	MaxMatchIDs    int
	FetchTimelines bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithArchive archives every fetched payload.
func WithArchive(a Archiver) RunnerOption {
	return func(r *Runner) {
		r.archive = a
	}
}

// WithNotifier reports runs to n.
func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) {
		r.notifier = n
	}
}

// Runner runs one named stage, or all of them in order.
type Runner struct {
	api      RiotAPI
	store    store.Store
	logger   *zap.Logger
	cfg      RunnerConfig
	archive  Archiver
	notifier Notifier
}

// NewRunner creates a Runner.
func NewRunner(api RiotAPI, st store.Store, logger *zap.Logger, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	r := &Runner{api: api, store: st, logger: logger.Named("runner"), cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes stage and returns the stats of every stage pass it ran.
// Per-record failures are only counted; the error is set when a stage
// aborted or ctx was cancelled.
func (r *Runner) Run(ctx context.Context, stage string) ([]Stats, error) {
	logger := r.logger.With(zap.String("stage", stage))
	logger.Info("run started")

	var (
		stats []Stats
		err   error
	)
	switch stage {
	case StagePlayerList:
		stats, err = one(r.ladder().Run(ctx, r.cfg.Shards, r.cfg.Queues))
	case StageMatchList:
		stats, err = one(r.harvester().Run(ctx, r.playerFilter(), nil))
	case StageMatchDetail:
		stats, err = one(r.fetcher().Run(ctx, 0))
	case StageMatchTimeline:
		stats, err = one(r.fetcher().Timelines(ctx, 0))
	case StageDerivePerformance:
		stats, err = one(r.deriver().Performance(ctx, 0))
	case StageDeriveFrames:
		stats, err = one(r.deriver().Frames(ctx, store.FramesFull, 0))
	case StageDeriveFramesLive:
		stats, err = one(r.deriver().Frames(ctx, store.FramesLive, 0))
	case StageDeriveMatchups:
		stats, err = one(r.deriver().Matchups(ctx, 0))
	case StageAll:
		stats, err = r.runAll(ctx)
	default:
		return nil, errors.Wrapf(ErrUnknownStage, "%q", stage)
	}

	for _, s := range stats {
		logger.Info("stage finished", s.Fields()...)
	}
	switch {
	case err == nil:
		logger.Info("run finished")
	case Interrupted(err):
		logger.Warn("run interrupted", zap.Error(err))
	default:
		logger.Error("run failed", zap.String("kind", riot.Kind(err)), zap.Error(err))
	}

	r.notify(stage, stats, err)
	return stats, err
}

func one(s Stats, err error) ([]Stats, error) {
	return []Stats{s}, err
}

// runAll crawls the ladder, streams harvested ids straight into the fetcher,
// drains the fetch backlog, backfills missing timelines and then runs every
// derivation concurrently.
func (r *Runner) runAll(ctx context.Context) ([]Stats, error) {
	var all []Stats

	ladder, err := r.ladder().Run(ctx, r.cfg.Shards, r.cfg.Queues)
	all = append(all, ladder)
	if err != nil {
		return all, err
	}

	chained, err := r.harvestAndFetch(ctx)
	all = append(all, chained...)
	if err != nil {
		return all, err
	}

	backlog, err := r.fetcher().Run(ctx, 0)
	all = append(all, backlog)
	if err != nil {
		return all, err
	}

	if r.cfg.FetchTimelines {
		missing, err := r.fetcher().Timelines(ctx, 0)
		all = append(all, missing)
		if err != nil {
			return all, err
		}
	}

	derived, err := r.deriveAll(ctx)
	all = append(all, derived...)
	return all, err
}

func (r *Runner) harvestAndFetch(ctx context.Context) ([]Stats, error) {
	queue := make(chan string, r.cfg.QueueSize)
	var harvest, fetch Stats

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		var err error
		harvest, err = r.harvester().Run(gctx, r.playerFilter(), queue)
		return err
	})
	g.Go(func() error {
		var err error
		fetch, err = r.fetcher().Consume(gctx, queue)
		return err
	})

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return []Stats{harvest, fetch}, err
}

func (r *Runner) deriveAll(ctx context.Context) ([]Stats, error) {
	d := r.deriver()
	jobs := []func(context.Context) (Stats, error){
		func(ctx context.Context) (Stats, error) { return d.Performance(ctx, 0) },
		func(ctx context.Context) (Stats, error) { return d.Frames(ctx, store.FramesFull, 0) },
		func(ctx context.Context) (Stats, error) { return d.Frames(ctx, store.FramesLive, 0) },
		func(ctx context.Context) (Stats, error) { return d.Matchups(ctx, 0) },
	}

	var mu sync.Mutex
	stats := make([]Stats, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		g.Go(func() error {
			s, err := job(gctx)
			mu.Lock()
			stats[i] = s
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return stats, err
}

// notify reports the run. It runs on its own context so an interrupted run
// is still reported.
func (r *Runner) notify(stage string, stats []Stats, runErr error) {
	if r.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if errors.Is(runErr, riot.ErrForbidden) {
		if err := r.notifier.KeyRejected(ctx, riot.Status(runErr)); err != nil {
			r.logger.Warn("key rejection notification failed", zap.Error(err))
		}
	}
	if err := r.notifier.RunFinished(ctx, r.cfg.RunID, stage, stats, runErr); err != nil {
		r.logger.Warn("run notification failed", zap.Error(err))
	}
}

func (r *Runner) playerFilter() store.PlayerFilter {
	f := store.PlayerFilter{Shards: r.cfg.Shards}
	if len(r.cfg.Queues) == 1 {
		f.Queue = r.cfg.Queues[0]
	}
	return f
}

func (r *Runner) ladder() *Ladder {
	return NewLadder(r.api, r.store, r.logger, r.cfg.LadderWorkers)
}

func (r *Runner) harvester() *Harvester {
	return NewHarvester(r.api, r.store, r.logger, r.cfg.HarvestWorkers, r.cfg.MaxMatchIDs)
}

func (r *Runner) fetcher() *Fetcher {
	return NewFetcher(r.api, r.store, r.logger, FetcherConfig{
		Workers:   r.cfg.FetchWorkers,
		Timelines: r.cfg.FetchTimelines,
		Archive:   r.archive,
	})
}

func (r *Runner) deriver() *Deriver {
	return NewDeriver(r.store, r.logger, r.cfg.DeriveWorkers)
}
