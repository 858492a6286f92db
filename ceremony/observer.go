package ceremony

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Observer emits the ceremony's structured log events and protocol counters.
// Every ceremony runs under a logger bound to the session identifier and
// every signer under a logger additionally bound to the participant index.
// No secret material ever appears in any event payload.
//
// The zero-value-friendly constructor makes the observer optional: a nil
// logger becomes a no-op logger and a nil registerer disables the counters.
type Observer struct {
	logger  *zap.Logger
	metrics *observerMetrics
}

type observerMetrics struct {
	nonceCommitmentReceived prometheus.Counter
	signatureShareReceived  prometheus.Counter
	ceremonyCompleted       prometheus.Counter
	ceremonyFailed          *prometheus.CounterVec
}

// NewObserver creates an Observer logging through the given logger and
// registering the protocol counters on the given registerer.
func NewObserver(
	logger *zap.Logger,
	registerer prometheus.Registerer,
) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}

	observer := &Observer{logger: logger}

	if registerer != nil {
		metrics := &observerMetrics{
			nonceCommitmentReceived: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "nonce_commitment_received",
					Help: "Round One nonce commitments accepted by signers.",
				},
			),
			signatureShareReceived: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "signature_share_received",
					Help: "Round Two signature shares accepted by signers.",
				},
			),
			ceremonyCompleted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "ceremony_completed",
					Help: "Signing ceremonies completed with a valid signature.",
				},
			),
			ceremonyFailed: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ceremony_failed",
					Help: "Signing ceremonies terminated with a failure.",
				},
				[]string{"reason"},
			),
		}

		registerer.MustRegister(
			metrics.nonceCommitmentReceived,
			metrics.signatureShareReceived,
			metrics.ceremonyCompleted,
			metrics.ceremonyFailed,
		)

		observer.metrics = metrics
	}

	return observer
}

func (o *Observer) ceremonyLogger(sessionID uint64) *zap.Logger {
	if o == nil {
		return zap.NewNop()
	}
	return o.logger.With(zap.Uint64("session_id", sessionID))
}

func (o *Observer) signerLogger(sessionID uint64, signerIndex uint64) *zap.Logger {
	return o.ceremonyLogger(sessionID).With(
		zap.Uint64("participant", signerIndex),
	)
}

func (o *Observer) nonceCommitmentReceived() {
	if o != nil && o.metrics != nil {
		o.metrics.nonceCommitmentReceived.Inc()
	}
}

func (o *Observer) signatureShareReceived() {
	if o != nil && o.metrics != nil {
		o.metrics.signatureShareReceived.Inc()
	}
}

func (o *Observer) ceremonyCompleted() {
	if o != nil && o.metrics != nil {
		o.metrics.ceremonyCompleted.Inc()
	}
}

func (o *Observer) ceremonyFailed(reason string) {
	if o != nil && o.metrics != nil {
		o.metrics.ceremonyFailed.WithLabelValues(reason).Inc()
	}
}
