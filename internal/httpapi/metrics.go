package httpapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trymwestin/aqara/internal/core/normalize"
	"github.com/trymwestin/aqara/internal/core/registry"
	"github.com/trymwestin/aqara/internal/core/state"
)

var (
	upDesc = prometheus.NewDesc(
		"aqara_entry_up", "Whether the last poll of the entry succeeded.", []string{"entry_id"}, nil,
	)
	statusDesc = prometheus.NewDesc(
		"aqara_entry_status", "Poll status of the entry (1 for the current status).", []string{"entry_id", "status"}, nil,
	)
	snapshotAgeDesc = prometheus.NewDesc(
		"aqara_snapshot_age_seconds", "Seconds since the snapshot was published.", []string{"entry_id"}, nil,
	)
	attributeDesc = prometheus.NewDesc(
		"aqara_attribute", "Numeric and boolean snapshot attributes.", []string{"entry_id", "attribute"}, nil,
	)
)

var allStatuses = []state.Status{
	state.StatusPending, state.StatusOK, state.StatusUpdateFailed, state.StatusReauthRequired,
}

// collector exports the registry's entries at scrape time.
type collector struct {
	reg *registry.Registry
	now func() time.Time
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- upDesc
	ch <- statusDesc
	ch <- snapshotAgeDesc
	ch <- attributeDesc
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, e := range c.reg.List() {
		if e.Coordinator == nil {
			continue
		}
		health := e.Coordinator.State().Health()

		up := 0.0
		if health.Status == state.StatusOK {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(upDesc, prometheus.GaugeValue, up, e.ID)

		for _, st := range allStatuses {
			v := 0.0
			if st == health.Status {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(statusDesc, prometheus.GaugeValue, v, e.ID, string(st))
		}

		snap, ok := e.Coordinator.Snapshot()
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(snapshotAgeDesc, prometheus.GaugeValue, c.now().Sub(snap.UpdatedAt).Seconds(), e.ID)
		for name, raw := range snap.Attributes {
			if v, ok := gaugeValue(raw); ok {
				ch <- prometheus.MustNewConstMetric(attributeDesc, prometheus.GaugeValue, v, e.ID, name)
			}
		}
	}
}

// gaugeValue converts bool and numeric attributes. Strings are skipped,
// even numeric-looking ones, since their meaning varies by attribute.
func gaugeValue(raw any) (float64, bool) {
	v, ok := normalize.Scalar(raw)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
