// Package metrics exposes a Prometheus Collector over a set of live
// scl.Connections (component K of the expanded spec): segment counts,
// byte counters, keepalive counts, and contact-up state per connection.
//
// Grounded on the pack's runZeroInc-sockstats repo,
// pkg/exporter.TCPInfoCollector: a mutex-guarded map of tracked
// objects, one prometheus.Desc/supplier pair per metric, Describe
// iterating the static desc list, Collect iterating the live map and
// emitting one sample per tracked object per metric.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dtnproto/scl/pkg/scl"
)

type connEntry struct {
	conn   *scl.Connection
	labels []string
}

type metricInfo struct {
	desc     *prometheus.Desc
	supplier func(s scl.Stats, labelValues []string) prometheus.Metric
}

// Collector is a prometheus.Collector over a dynamic set of
// scl.Connections, added/removed as contacts come up and go down.
type Collector struct {
	mu    sync.Mutex
	conns map[*scl.Connection]connEntry
	infos []metricInfo
}

// NewCollector builds a Collector. connectionLabels names the label
// keys supplied per connection via Add's labelValues (e.g. "contact_id",
// "peer"); constLabels are fixed for the whole process (e.g. "app",
// "hostname"), mirroring the teacher's NewTCPInfoCollector signature.
func NewCollector(prefix string, connectionLabels []string, constLabels prometheus.Labels) *Collector {
	c := &Collector{conns: make(map[*scl.Connection]connEntry)}
	c.addMetrics(prefix, connectionLabels, constLabels)
	return c
}

func (c *Collector) addMetrics(prefix string, labels []string, constLabels prometheus.Labels) {
	counter := func(name, help string, get func(scl.Stats) int64) {
		desc := prometheus.NewDesc(prefix+"_"+name, help, labels, constLabels)
		c.infos = append(c.infos, metricInfo{
			desc: desc,
			supplier: func(s scl.Stats, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(get(s)), lv...)
			},
		})
	}
	counter("segments_sent_total", "DATA_SEGMENT messages sent.", func(s scl.Stats) int64 { return s.SegmentsSent })
	counter("segments_received_total", "DATA_SEGMENT messages received.", func(s scl.Stats) int64 { return s.SegmentsRcvd })
	counter("bytes_sent_total", "Payload bytes framed into outbound segments.", func(s scl.Stats) int64 { return s.BytesSent })
	counter("bytes_acked_total", "Payload bytes acknowledged by the peer.", func(s scl.Stats) int64 { return s.BytesAcked })
	counter("keepalives_sent_total", "KEEPALIVE messages sent.", func(s scl.Stats) int64 { return s.KeepalivesSent })

	upDesc := prometheus.NewDesc(prefix+"_contact_up", "1 if the contact is up, 0 otherwise.", labels, constLabels)
	c.infos = append(c.infos, metricInfo{
		desc: upDesc,
		supplier: func(s scl.Stats, lv []string) prometheus.Metric {
			v := 0.0
			if s.ContactUp {
				v = 1.0
			}
			return prometheus.MustNewConstMetric(upDesc, prometheus.GaugeValue, v, lv...)
		},
	})
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range c.infos {
		descs <- info.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.conns {
		stats := entry.conn.Stats()
		for _, info := range c.infos {
			metrics <- info.supplier(stats, entry.labels)
		}
	}
}

// Add starts tracking conn under the given label values, which must
// line up positionally with connectionLabels passed to NewCollector.
func (c *Collector) Add(conn *scl.Connection, labelValues []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn] = connEntry{conn: conn, labels: labelValues}
}

// Remove stops tracking conn, called once its ContactDownEvent fires.
func (c *Collector) Remove(conn *scl.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conn)
}
