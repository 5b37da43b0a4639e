// Package metrics exposes controller observations as prometheus
// collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rolloutd/rolloutd/internal/domain"
)

// Controller implements [application.ControllerMetrics] on a prometheus
// registry.
type Controller struct {
	iterations  prometheus.Counter
	ticksTotal  *prometheus.CounterVec
	tickErrors  *prometheus.CounterVec
	activeGauge prometheus.Gauge
}

// NewController registers the controller collectors with reg.
func NewController(reg prometheus.Registerer) *Controller {
	c := &Controller{
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rolloutd",
			Subsystem: "controller",
			Name:      "iterations_total",
			Help:      "Count of evaluation loop iterations",
		}),
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rolloutd",
			Subsystem: "controller",
			Name:      "ticks_total",
			Help:      "Count of rollout evaluation ticks by prior state",
		}, []string{"state"}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rolloutd",
			Subsystem: "controller",
			Name:      "tick_errors_total",
			Help:      "Count of failed rollout evaluation ticks by prior state",
		}, []string{"state"}),
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rolloutd",
			Subsystem: "controller",
			Name:      "active_rollouts",
			Help:      "Rollouts currently under evaluation",
		}),
	}
	reg.MustRegister(c.iterations, c.ticksTotal, c.tickErrors, c.activeGauge)
	return c
}

func (c *Controller) IterationStarted() {
	c.iterations.Inc()
}

func (c *Controller) TickCompleted(state domain.RolloutState, err error) {
	labels := prometheus.Labels{"state": string(state)}
	c.ticksTotal.With(labels).Inc()
	if err != nil {
		c.tickErrors.With(labels).Inc()
	}
}

func (c *Controller) ActiveRollouts(n int) {
	c.activeGauge.Set(float64(n))
}
