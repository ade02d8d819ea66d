package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exports per-flow window activity. It satisfies tracker.Observer.
type Recorder struct {
	// SentTotal counts sequence numbers marked pending
	SentTotal *prometheus.CounterVec
	// AckedTotal counts pending sequence numbers cleared by acks
	AckedTotal *prometheus.CounterVec
	// IgnoredAcksTotal counts acks that cleared nothing, by reason
	IgnoredAcksTotal *prometheus.CounterVec
	// TimeoutsTotal counts entries cleared on deadline expiry
	TimeoutsTotal *prometheus.CounterVec
	// ForcedExpiryTotal counts entries expired early to make room for new sends
	ForcedExpiryTotal *prometheus.CounterVec
	// Pending is the current number of marked entries
	Pending *prometheus.GaugeVec
}

// NewRecorder registers the window metrics on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		SentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fpwnd_sent_total",
				Help: "Total sequence numbers marked pending",
			},
			[]string{"flow"},
		),
		AckedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fpwnd_acked_total",
				Help: "Total pending sequence numbers cleared by acknowledgments",
			},
			[]string{"flow"},
		),
		IgnoredAcksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fpwnd_ignored_acks_total",
				Help: "Acknowledgments that matched no pending entry",
			},
			[]string{"flow", "reason"},
		),
		TimeoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fpwnd_timeouts_total",
				Help: "Pending entries cleared because their deadline passed",
			},
			[]string{"flow"},
		),
		ForcedExpiryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fpwnd_forced_expiry_total",
				Help: "Pending entries expired early because the window had to advance",
			},
			[]string{"flow"},
		),
		Pending: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fpwnd_pending",
				Help: "Current number of pending sequence numbers",
			},
			[]string{"flow"},
		),
	}
}

func (r *Recorder) Sent(flow string, n int) {
	r.SentTotal.WithLabelValues(flow).Add(float64(n))
}

func (r *Recorder) Acked(flow string, n int) {
	r.AckedTotal.WithLabelValues(flow).Add(float64(n))
}

func (r *Recorder) IgnoredAck(flow, reason string) {
	r.IgnoredAcksTotal.WithLabelValues(flow, reason).Inc()
}

func (r *Recorder) TimedOut(flow string, n int) {
	r.TimeoutsTotal.WithLabelValues(flow).Add(float64(n))
}

func (r *Recorder) ForcedExpiry(flow string, n int) {
	r.ForcedExpiryTotal.WithLabelValues(flow).Add(float64(n))
}

func (r *Recorder) SetPending(flow string, n int) {
	r.Pending.WithLabelValues(flow).Set(float64(n))
}
