// Package metrics holds the prometheus collectors shared by the governor,
// the Riot client and the pipeline stages.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	RiotRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riot_requests_total",
		Help: "Riot API requests by endpoint class and HTTP status",
	}, []string{"class", "status"})

	RiotRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riot_request_duration_seconds",
		Help:    "Riot API round trip latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"class"})

	GovernorWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "governor_wait_seconds",
		Help:    "Time spent waiting in Acquire",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"class"})

	GovernorPauses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_pauses_total",
		Help: "Bucket pauses caused by throttling responses",
	}, []string{"class"})

	StageRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stage_records_total",
		Help: "Records handled per pipeline stage and outcome",
	}, []string{"stage", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stage_duration_seconds",
		Help:    "Wall time of one stage pass",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"stage"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stage_queue_depth",
		Help: "Items waiting in a bounded inter-stage queue",
	}, []string{"queue"})
)

// Outcomes used with StageRecords.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics listener started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
}
