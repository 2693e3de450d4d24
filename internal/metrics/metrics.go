// Package metrics counts lookups, HTTP responses and written rows for one run.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shpitdev/character-image-enricher/pkg/pipeline/core"
)

const namespace = "charimg"

// Recorder owns a private registry so runs (and tests) never share counters.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	reg       *prometheus.Registry
	attempts  *prometheus.CounterVec
	lookups   *prometheus.CounterVec
	responses *prometheus.CounterVec
	rows      *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_attempts_total",
			Help:      "Lookup attempts by outcome.",
		}, []string{"outcome"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Completed lookups by result.",
		}, []string{"result"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "Board API responses by operation and status code (0 = no response).",
		}, []string{"op", "code"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Output rows by kind.",
		}, []string{"kind"}),
	}
	r.reg.MustRegister(r.attempts, r.lookups, r.responses, r.rows)
	return r
}

// ObserveAttempt counts one lookup attempt.
func (r *Recorder) ObserveAttempt(err error) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(attemptOutcome(err)).Inc()
}

// ObserveResult counts one finished lookup.
func (r *Recorder) ObserveResult(found bool) {
	if r == nil {
		return
	}
	result := "not_found"
	if found {
		result = "found"
	}
	r.lookups.WithLabelValues(result).Inc()
}

// ObserveResponse counts one HTTP exchange with the board API.
func (r *Recorder) ObserveResponse(op string, status int) {
	if r == nil {
		return
	}
	r.responses.WithLabelValues(op, strconv.Itoa(status)).Inc()
}

// ObserveRow counts one output row.
func (r *Recorder) ObserveRow(kind string) {
	if r == nil {
		return
	}
	r.rows.WithLabelValues(kind).Inc()
}

// Gatherer exposes the registry, mainly for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// WriteTextfile writes the text exposition format to path, atomically, for the
// node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.Gatherer())
}

func attemptOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	var te *core.TransportError
	if errors.As(err, &te) {
		return "transport_error"
	}
	var nf *core.NotFoundError
	if errors.As(err, &nf) {
		return "not_found"
	}
	return "error"
}
