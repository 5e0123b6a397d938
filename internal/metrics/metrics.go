package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// MetricKey is a strongly typed metric name.
type MetricKey string

const (
	CyclesTotal            MetricKey = "sentinel_cycles_total"
	CheckFailuresTotal     MetricKey = "sentinel_check_failures_total"
	AlertsTotal            MetricKey = "sentinel_alerts_total"
	AlertsSuppressedTotal  MetricKey = "sentinel_alerts_suppressed_total"
	DeliveriesTotal        MetricKey = "sentinel_channel_deliveries_total"
	CallbackFailuresTotal  MetricKey = "sentinel_callback_failures_total"
	ActionsTotal           MetricKey = "sentinel_actions_total"
	DaemonRunning          MetricKey = "sentinel_daemon_running"
	LastCycleTimestamp     MetricKey = "sentinel_last_cycle_timestamp_seconds"
	SuppressionWindowsOpen MetricKey = "sentinel_suppression_entries"
)

type desc struct {
	help string
	kind dto.MetricType
}

var descriptions = map[MetricKey]desc{
	CyclesTotal:            {"Completed monitor cycles.", dto.MetricType_COUNTER},
	CheckFailuresTotal:     {"Health check runs that failed or timed out.", dto.MetricType_COUNTER},
	AlertsTotal:            {"Alerts raised by health checks.", dto.MetricType_COUNTER},
	AlertsSuppressedTotal:  {"Alerts not redelivered because of the suppression window.", dto.MetricType_COUNTER},
	DeliveriesTotal:        {"Channel delivery attempts by result.", dto.MetricType_COUNTER},
	CallbackFailuresTotal:  {"Alert callbacks that returned an error or panicked.", dto.MetricType_COUNTER},
	ActionsTotal:           {"Remediation actions by type and final status.", dto.MetricType_COUNTER},
	DaemonRunning:          {"1 while the monitor loop is running.", dto.MetricType_GAUGE},
	LastCycleTimestamp:     {"Unix time of the last completed cycle.", dto.MetricType_GAUGE},
	SuppressionWindowsOpen: {"Alert signatures currently held in the suppression window.", dto.MetricType_GAUGE},
}

type series struct {
	labels []*dto.LabelPair
	value  float64
}

// Registry stores counters and gauges keyed by name and label set.
// All methods are safe on a nil *Registry, which records nothing.
type Registry struct {
	mu     sync.RWMutex
	series map[MetricKey]map[string]*series
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{series: make(map[MetricKey]map[string]*series)}
}

// Inc adds one to the series named by key and labels.
// labels are alternating name, value pairs.
func (r *Registry) Inc(key MetricKey, labels ...string) {
	r.Add(key, 1, labels...)
}

// Add adds delta to the series.
func (r *Registry) Add(key MetricKey, delta float64, labels ...string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.get(key, labels).value += delta
	r.mu.Unlock()
}

// Set overwrites the series value.
func (r *Registry) Set(key MetricKey, v float64, labels ...string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.get(key, labels).value = v
	r.mu.Unlock()
}

// Value returns the current value of one series, or 0 if it does not exist.
func (r *Registry) Value(key MetricKey, labels ...string) float64 {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.series[key][labelKey(labels)]; ok {
		return s.value
	}
	return 0
}

// Snapshot returns a copy of every series keyed as name{k="v",...}.
func (r *Registry) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	if r == nil {
		return out
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, byLabels := range r.series {
		for lk, s := range byLabels {
			out[string(key)+lk] = s.value
		}
	}
	return out
}

// Gather converts the registry into Prometheus metric families sorted by name.
func (r *Registry) Gather() []*dto.MetricFamily {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	out := make([]*dto.MetricFamily, 0, len(keys))
	for _, k := range keys {
		key := MetricKey(k)
		d, ok := descriptions[key]
		if !ok {
			d = desc{help: k, kind: dto.MetricType_UNTYPED}
		}
		mf := &dto.MetricFamily{
			Name: strPtr(k),
			Help: strPtr(d.help),
			Type: d.kind.Enum(),
		}
		lks := make([]string, 0, len(r.series[key]))
		for lk := range r.series[key] {
			lks = append(lks, lk)
		}
		sort.Strings(lks)
		for _, lk := range lks {
			s := r.series[key][lk]
			m := &dto.Metric{Label: s.labels}
			v := s.value
			switch d.kind {
			case dto.MetricType_COUNTER:
				m.Counter = &dto.Counter{Value: &v}
			case dto.MetricType_GAUGE:
				m.Gauge = &dto.Gauge{Value: &v}
			default:
				m.Untyped = &dto.Untyped{Value: &v}
			}
			mf.Metric = append(mf.Metric, m)
		}
		out = append(out, mf)
	}
	return out
}

// WriteText renders the registry in the Prometheus text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	for _, mf := range r.Gather() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// get must be called with r.mu held for writing.
func (r *Registry) get(key MetricKey, labels []string) *series {
	byLabels, ok := r.series[key]
	if !ok {
		byLabels = make(map[string]*series)
		r.series[key] = byLabels
	}
	lk := labelKey(labels)
	s, ok := byLabels[lk]
	if !ok {
		s = &series{labels: labelPairs(labels)}
		byLabels[lk] = s
	}
	return s
}

func labelKey(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		pairs = append(pairs, fmt.Sprintf("%s=%q", labels[i], labels[i+1]))
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}

func labelPairs(labels []string) []*dto.LabelPair {
	out := make([]*dto.LabelPair, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		out = append(out, &dto.LabelPair{Name: strPtr(labels[i]), Value: strPtr(labels[i+1])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

func strPtr(s string) *string { return &s }
