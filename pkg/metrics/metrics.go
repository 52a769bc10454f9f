// Package metrics counts flow and step outcomes in a Prometheus registry
// and writes them in the text exposition format.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/systemstart/many-flows/pkg/actions"
	"github.com/systemstart/many-flows/pkg/processing"
)

const namespace = "flows"

// Collector implements processing.Observer.
type Collector struct {
	Registry *prometheus.Registry

	StepTotal    *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	FlowTotal    *prometheus.CounterVec
	FlowDuration *prometheus.HistogramVec
}

var _ processing.Observer = (*Collector)(nil)

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		StepTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_total",
				Help:      "Executed steps by function and outcome.",
			},
			[]string{"function", "outcome"}, // pass | fail | skip
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Step execution time in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"function"},
		),
		FlowTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_total",
				Help:      "Finished flows by status.",
			},
			[]string{"status"}, // completed | aborted
		),
		FlowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flow_duration_seconds",
				Help:      "Flow execution time in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"flow"},
		),
	}
	c.Registry.MustRegister(c.StepTotal, c.StepDuration, c.FlowTotal, c.FlowDuration)
	return c
}

func (c *Collector) StepFinished(_, _, function string, outcome actions.Outcome, d time.Duration) {
	c.StepTotal.WithLabelValues(function, string(outcome)).Inc()
	c.StepDuration.WithLabelValues(function).Observe(d.Seconds())
}

func (c *Collector) FlowFinished(flowID string, status processing.Status, d time.Duration) {
	c.FlowTotal.WithLabelValues(string(status)).Inc()
	c.FlowDuration.WithLabelValues(flowID).Observe(d.Seconds())
}

// Write encodes every gathered metric family to w.
func (c *Collector) Write(w io.Writer) error {
	families, err := c.Registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encoding %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteToTextfile writes the metrics atomically for the node exporter
// textfile collector.
func (c *Collector) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.Registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
