package metrics

import (
	"context"

	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder turns ledger events into prometheus series. It is used as a
// ledger notifier alongside the websocket hub.
type Recorder struct {
	events      *prometheus.CounterVec
	openGauge   prometheus.Gauge
	settled     prometheus.Counter
	refunded    prometheus.Counter
	bidVolume   prometheus.Counter
	highestSeen prometheus.Gauge
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_events_total",
			Help: "Ledger events emitted, by type",
		}, []string{"type"}),
		openGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_open_auctions",
			Help: "Auctions created and not yet closed",
		}),
		settled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_settled_value_total",
			Help: "Value paid to beneficiaries on close",
		}),
		refunded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_refunded_value_total",
			Help: "Value returned to outbid bidders",
		}),
		bidVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_bid_value_total",
			Help: "Value collected from accepted bids",
		}),
		highestSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_last_highest_bid",
			Help: "Highest bid reported by the most recent accepted bid",
		}),
	}
	reg.MustRegister(r.events, r.openGauge, r.settled, r.refunded, r.bidVolume, r.highestSeen)
	return r
}

// Notify implements ledger.Notifier.
func (r *Recorder) Notify(_ context.Context, ev types.Event) {
	r.events.WithLabelValues(string(ev.Type)).Inc()
	switch ev.Type {
	case types.EventAuctionCreated:
		r.openGauge.Inc()
	case types.EventBidAccepted:
		if ev.Amount != nil {
			r.bidVolume.Add(ev.Amount.InexactFloat64())
		}
		if ev.HighestBid != nil {
			r.highestSeen.Set(ev.HighestBid.InexactFloat64())
		}
	case types.EventAuctionClosed:
		r.openGauge.Dec()
		if ev.HighestBid != nil {
			r.settled.Add(ev.HighestBid.InexactFloat64())
		}
	case types.EventWithdrawalSucceeded:
		if ev.Amount != nil {
			r.refunded.Add(ev.Amount.InexactFloat64())
		}
	}
}
