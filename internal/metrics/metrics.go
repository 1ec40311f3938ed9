// Package metrics exposes run counters for Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_messages_total",
		Help: "Messages recorded, by channel and content type.",
	}, []string{"channel", "type"})

	promptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_prompts_total",
		Help: "Messages classified as topical, by channel.",
	}, []string{"channel"})

	mediaTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_media_total",
		Help: "Media fetch outcomes.",
	}, []string{"outcome"})

	mediaBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvester_media_bytes_total",
		Help: "Bytes of media stored.",
	})

	throttlesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvester_throttles_total",
		Help: "Rate limit signals received from the service.",
	})

	channelsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_channels_total",
		Help: "Finished channels, by status.",
	}, []string{"status"})

	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_runs_total",
		Help: "Finished runs, by outcome.",
	}, []string{"outcome"})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_run_duration_seconds",
		Help:    "Wall time of a run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	runsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_runs_active",
		Help: "Runs in progress.",
	})
)

// MustRegister registers the package collectors once.
func MustRegister(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		registerer.MustRegister(
			messagesTotal,
			promptsTotal,
			mediaTotal,
			mediaBytes,
			throttlesTotal,
			channelsTotal,
			runsTotal,
			runDuration,
			runsActive,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	MustRegister(prometheus.DefaultRegisterer)
	return promhttp.Handler()
}

// ObserveMessage counts a recorded message.
func ObserveMessage(channel, contentType string, prompt bool) {
	messagesTotal.WithLabelValues(channel, contentType).Inc()
	if prompt {
		promptsTotal.WithLabelValues(channel).Inc()
	}
}

// ObserveMedia counts a media outcome.
func ObserveMedia(ok bool, size int64) {
	if !ok {
		mediaTotal.WithLabelValues("failed").Inc()
		return
	}
	mediaTotal.WithLabelValues("downloaded").Inc()
	mediaBytes.Add(float64(size))
}

// ObserveThrottles adds service throttling signals.
func ObserveThrottles(n int64) {
	if n > 0 {
		throttlesTotal.Add(float64(n))
	}
}

// ObserveChannel counts a finished channel.
func ObserveChannel(status string) {
	channelsTotal.WithLabelValues(status).Inc()
}

// RunStarted marks a run as active.
func RunStarted() {
	runsActive.Inc()
}

// RunFinished records the outcome and wall time of a run.
func RunFinished(outcome string, seconds float64) {
	runsActive.Dec()
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(seconds)
}
