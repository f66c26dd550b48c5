package node

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// nodeMetrics holds the frame-plane Prometheus collectors, labeled per
// channel where the event has a natural channel of attribution.
type nodeMetrics struct {
	rx                  *prometheus.CounterVec
	tx                  *prometheus.CounterVec
	dedupDrop           *prometheus.CounterVec
	servicedWideBlocked *prometheus.CounterVec
	maxWideBlocked      *prometheus.CounterVec
	fillInBlocked       *prometheus.CounterVec
	digipeats           *prometheus.CounterVec
	uniqueStations      prometheus.Gauge
}

func newNodeMetrics(reg prometheus.Registerer) *nodeMetrics {
	m := &nodeMetrics{
		rx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packetnode", Subsystem: "channel", Name: "rx_frames_total",
			Help: "Frames received and successfully parsed, by channel.",
		}, []string{"channel"}),
		tx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packetnode", Subsystem: "channel", Name: "tx_frames_total",
			Help: "Frames transmitted, by channel.",
		}, []string{"channel"}),
		dedupDrop: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packetnode", Subsystem: "channel", Name: "dedup_drop_total",
			Help: "Frames dropped as duplicates, by channel.",
		}, []string{"channel"}),
		servicedWideBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packetnode", Subsystem: "channel", Name: "serviced_wide_blocked_total",
			Help: "Frames not forwarded because their path was already fully repeated.",
		}, []string{"channel"}),
		maxWideBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packetnode", Subsystem: "channel", Name: "max_wide_blocked_total",
			Help: "Frames not forwarded because their WIDEn-N exceeded the target channel's maxWideN.",
		}, []string{"channel"}),
		fillInBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packetnode", Subsystem: "channel", Name: "fill_in_blocked_total",
			Help: "Frames not forwarded because the target is a fill-in channel and the path carried WIDE2-2 or higher.",
		}, []string{"channel"}),
		digipeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packetnode", Subsystem: "channel", Name: "digipeats_total",
			Help: "Frames forwarded with a serviced digipeater path, by (from,to) channel pair.",
		}, []string{"from", "to"}),
		uniqueStations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "packetnode", Subsystem: "channel", Name: "unique_stations",
			Help: "Distinct source stations currently live in the dedup cache.",
		}),
	}
	reg.MustRegister(m.rx, m.tx, m.dedupDrop, m.servicedWideBlocked, m.maxWideBlocked, m.fillInBlocked, m.digipeats, m.uniqueStations)
	return m
}

// Snapshot is a point-in-time read of the node metrics for a single
// channel, returned by Manager.GetMetrics.
type Snapshot struct {
	Channel             string
	Rx                  float64
	Tx                  float64
	DedupDrop           float64
	ServicedWideBlocked float64
	MaxWideBlocked      float64
	FillInBlocked       float64
	Digipeats           float64
	UniqueStations      float64
}

func counterValue(v *prometheus.CounterVec, labels ...string) float64 {
	c, err := v.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// digipeatsFor sums the digipeats counter across every (from, to)
// pair where to == channelID, since a channel may receive serviced
// frames fanned out from several source channels.
func (m *nodeMetrics) digipeatsFor(channelID string, fromIDs []string) float64 {
	var total float64
	for _, from := range fromIDs {
		total += counterValue(m.digipeats, from, channelID)
	}
	return total
}
