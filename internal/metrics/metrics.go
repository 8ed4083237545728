package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label resolution sources.
const (
	LabelCache   = "cache"
	LabelRemote  = "remote"
	LabelCreated = "created"
	LabelAdopted = "adopted"
	LabelError   = "error"
)

// Metrics groups the counters one processing run updates. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	RecordsProcessed prometheus.Counter
	RuleMatches      *prometheus.CounterVec
	Actions          *prometheus.CounterVec
	LabelResolutions *prometheus.CounterVec
}

// New registers the run counters with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "inboxrules_records_processed_total",
			Help: "Records evaluated against the rule set",
		}),
		RuleMatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inboxrules_rule_matches_total",
			Help: "Record and rule pairs that matched",
		}, []string{"rule"}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inboxrules_actions_total",
			Help: "Actions applied, by type and result",
		}, []string{"type", "result"}),
		LabelResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inboxrules_label_resolutions_total",
			Help: "Label name resolutions, by where the identifier came from",
		}, []string{"source"}),
	}
}

func (m *Metrics) Record() {
	if m == nil {
		return
	}
	m.RecordsProcessed.Inc()
}

func (m *Metrics) Match(rule string) {
	if m == nil {
		return
	}
	m.RuleMatches.WithLabelValues(rule).Inc()
}

// Action counts one action outcome by type and result (ok, failed,
// store_failed or dry_run).
func (m *Metrics) Action(actionType, result string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(actionType, result).Inc()
}

func (m *Metrics) Label(source string) {
	if m == nil {
		return
	}
	m.LabelResolutions.WithLabelValues(source).Inc()
}

// WriteTextfile dumps everything g gathers to path in the text exposition
// format, for the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
