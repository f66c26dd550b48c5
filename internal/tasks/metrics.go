package tasks

import "sync"

// MetricSample is one named counter's current value, gathered from the
// channel manager's Snapshot per channel.
type MetricSample struct {
	Channel string
	Name    string
	Value   float64
}

// MetricAlert is raised when a sampled counter exceeds its configured
// threshold and has strictly increased since the previous sample.
type MetricAlert struct {
	Channel string
	Name    string
	Value   float64
	Delta   float64
}

// MetricAlertFunc receives a raised MetricAlert.
type MetricAlertFunc func(MetricAlert)

// ThresholdWatcher tracks the last-seen value per (channel, name) and
// raises an alert only when a sample both exceeds threshold and
// strictly increased since the prior sample. A counter that is merely
// high but flat since last check doesn't alert repeatedly.
type ThresholdWatcher struct {
	mu        sync.Mutex
	last      map[string]float64
	threshold map[string]float64
	notify    MetricAlertFunc
}

// NewThresholdWatcher returns a ThresholdWatcher. thresholds maps a
// counter name (e.g. "servicedWideBlocked") to the value it must
// exceed before an alert is considered.
func NewThresholdWatcher(thresholds map[string]float64, notify MetricAlertFunc) *ThresholdWatcher {
	return &ThresholdWatcher{
		last:      make(map[string]float64),
		threshold: thresholds,
		notify:    notify,
	}
}

// Sample feeds one reading through the watcher.
func (w *ThresholdWatcher) Sample(s MetricSample) {
	threshold, watched := w.threshold[s.Name]
	if !watched {
		return
	}

	key := s.Channel + "/" + s.Name
	w.mu.Lock()
	prev := w.last[key]
	w.last[key] = s.Value
	w.mu.Unlock()

	delta := s.Value - prev
	if s.Value > threshold && delta > 0 {
		w.notify(MetricAlert{Channel: s.Channel, Name: s.Name, Value: s.Value, Delta: delta})
	}
}
