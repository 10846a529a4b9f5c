package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dappnode/validator-duties/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AttestSuccessVec counts attestations accepted by the beacon node.
	AttestSuccessVec = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "validator",
			Name:      "successful_attestations",
		},
		[]string{"pubkey"},
	)
	// AttestFailVec counts attestations that failed to build, sign or publish.
	AttestFailVec = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "validator",
			Name:      "failed_attestations",
		},
		[]string{"pubkey"},
	)
	AttestRejectedVec = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "validator",
			Name:      "attestations_rejected_total",
			Help:      "Count the attestations rejected by slashing protection.",
		},
		[]string{"pubkey"},
	)
	ProposeSuccessVec = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "validator",
			Name:      "successful_proposals",
		},
		[]string{"pubkey"},
	)
	ProposeFailVec = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "validator",
			Name:      "failed_proposals",
		},
		[]string{"pubkey"},
	)
	ProposeRejectedVec = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "validator",
			Name:      "proposals_rejected_total",
			Help:      "Count the block proposals rejected by slashing protection.",
		},
		[]string{"pubkey"},
	)
	StateFetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "validator",
			Name:      "state_fetch_failures_total",
			Help:      "Slots skipped because the head state could not be read.",
		},
	)
	DutiesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "validator",
			Name:      "duties_resolved_total",
		},
		[]string{"kind"},
	)
	CurrentSlot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "validator",
			Name:      "current_slot",
		},
	)
)

// Serve exposes the default registry on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WarnWithPrefix("Metrics", "Shutdown: %v", err)
		}
	}()

	logger.InfoWithPrefix("Metrics", "Serving on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
