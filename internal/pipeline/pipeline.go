// Package pipeline implements the ingestion stages: ladder crawl, match id
// harvest, detail fetch and the derivations computed from stored payloads.
// Every stage reads its input from the store and writes its output together
// with a processed marker, so any stage can be rerun on its own.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"riot-ingester/internal/metrics"
	"riot-ingester/internal/riot"
)

// RiotAPI is the subset of the Riot client the stages call.
type RiotAPI interface {
	TopPlayers(ctx context.Context, shard, queue string, tier riot.Tier) (*riot.LeagueList, error)
	SummonerByName(ctx context.Context, shard, name string) (*riot.Summoner, error)
	AccountByRiotID(ctx context.Context, cluster, gameName, tagLine string) (*riot.Account, error)
	MatchIDsByPUUID(ctx context.Context, cluster, puuid string, q riot.MatchIDQuery) ([]string, error)
	MatchDetail(ctx context.Context, cluster, matchID string) (*riot.MatchDetail, error)
	MatchTimeline(ctx context.Context, cluster, matchID string) (*riot.Timeline, error)
}

var _ RiotAPI = (*riot.Client)(nil)

// Stage names, used on the command line, in logs and as metric labels.
const (
	StagePlayerList        = "player-list"
	StageMatchList         = "match-list"
	StageMatchDetail       = "match-detail"
	StageMatchTimeline     = "match-timeline"
	StageDerivePerformance = "derive-performance"
	StageDeriveFrames      = "derive-frames"
	StageDeriveFramesLive  = "derive-frames-live"
	StageDeriveMatchups    = "derive-matchups"
	StageAll               = "all"
)

// Stages lists the stages Runner.Run accepts.
var Stages = []string{
	StagePlayerList, StageMatchList, StageMatchDetail, StageMatchTimeline,
	StageDerivePerformance, StageDeriveFrames, StageDeriveFramesLive, StageDeriveMatchups,
	StageAll,
}

// Stats summarizes one stage pass.
type Stats struct {
	Stage     string
	Processed int64
	Skipped   int64
	Failed    int64
	Duration  time.Duration
}

// Fields returns the stats as zap fields.
func (s Stats) Fields() []zap.Field {
	return []zap.Field{
		zap.String("stage", s.Stage),
		zap.Int64("processed", s.Processed),
		zap.Int64("skipped", s.Skipped),
		zap.Int64("failed", s.Failed),
		zap.Duration("duration", s.Duration),
	}
}

// counter accumulates Stats from concurrent workers.
type counter struct {
	stage     string
	start     time.Time
	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

func newCounter(stage string) *counter {
	return &counter{stage: stage, start: time.Now()}
}

func (c *counter) ok(n int) {
	c.processed.Add(int64(n))
	metrics.StageRecords.WithLabelValues(c.stage, metrics.OutcomeOK).Add(float64(n))
}

func (c *counter) skip() {
	c.skipped.Add(1)
	metrics.StageRecords.WithLabelValues(c.stage, metrics.OutcomeSkipped).Inc()
}

func (c *counter) fail() {
	c.failed.Add(1)
	metrics.StageRecords.WithLabelValues(c.stage, metrics.OutcomeFailed).Inc()
}

func (c *counter) stats() Stats {
	d := time.Since(c.start)
	metrics.StageDuration.WithLabelValues(c.stage).Observe(d.Seconds())
	return Stats{
		Stage:     c.stage,
		Processed: c.processed.Load(),
		Skipped:   c.skipped.Load(),
		Failed:    c.failed.Load(),
		Duration:  d,
	}
}

// ErrStorage marks failures of the store. They abort the stage.
var ErrStorage = errors.New("storage failure")

func storageErr(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), ErrStorage)
}

// fatal reports whether err must stop the whole stage rather than skip one record.
func fatal(err error) bool {
	return errors.Is(err, riot.ErrForbidden) ||
		errors.Is(err, riot.ErrCancelled) ||
		errors.Is(err, ErrStorage) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Interrupted reports whether err comes from shutdown rather than a failure.
func Interrupted(err error) bool {
	return errors.Is(err, riot.ErrCancelled) ||
		errors.Is(err, context.Canceled)
}
