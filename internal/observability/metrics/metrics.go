// Package metrics exposes reminder activity in the Prometheus text format.
package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"namazbot/internal/eventbus"
	"namazbot/internal/reminder"
)

const namespace = "namazbot"

// Collector owns a private registry with the bot's metrics.
type Collector struct {
	reg *prometheus.Registry

	transitions *prometheus.CounterVec
	subscribers prometheus.Gauge
	rollovers   *prometheus.CounterVec
	reloads     *prometheus.CounterVec
}

// New registers the bot's metrics plus the Go runtime and process collectors.
// pending, if set, is sampled on every scrape.
func New(pending func() int) *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_transitions_total",
			Help:      "Reminder state transitions by target state and prayer.",
		}, []string{"state", "kind"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Chats currently subscribed to reminders.",
		}),
		rollovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollovers_total",
			Help:      "Daily scheduling passes by result.",
		}, []string{"result"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Hot reloads by source and result.",
		}, []string{"source", "result"}),
	}
	c.reg.MustRegister(
		c.transitions, c.subscribers, c.rollovers, c.reloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if pending != nil {
		c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reminders_pending",
			Help:      "Reminders armed and waiting to fire.",
		}, func() float64 { return float64(pending()) }))
	}
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) SetSubscribers(n int) { c.subscribers.Set(float64(n)) }

func (c *Collector) Rollover(err error) { c.rollovers.WithLabelValues(result(err)).Inc() }

// Reload counts a hot reload of source ("config", "timetable").
func (c *Collector) Reload(source string, err error) {
	c.reloads.WithLabelValues(source, result(err)).Inc()
}

// Observe counts one bus event; non-reminder events are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	if !strings.HasPrefix(e.Type, reminder.EventPrefix) {
		return
	}
	ev, ok := e.Data.(reminder.Event)
	if !ok {
		return
	}
	c.transitions.WithLabelValues(ev.Record.State.String(), ev.Record.Kind.String()).Inc()
}

// Consume observes bus events until ctx is done or the subscription closes.
func (c *Collector) Consume(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
