package metrics

import (
	"fmt"

	dto "github.com/prometheus/client_model/go"
)

// fetchCounterValue returns the counter in family name whose labels include
// every pair in want.
func fetchCounterValue(mfs []*dto.MetricFamily, name string, want ...string) (float64, error) {
	metric, err := findMetric(mfs, name, want...)
	if err != nil {
		return 0, err
	}
	return metric.GetCounter().GetValue(), nil
}

func findMetric(mfs []*dto.MetricFamily, name string, want ...string) (*dto.Metric, error) {
	if len(want)%2 != 0 {
		return nil, fmt.Errorf("label pairs must be even, got %d", len(want))
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabels(metric.GetLabel(), want) {
				return metric, nil
			}
		}
		return nil, fmt.Errorf("metric %q has no series with labels %v", name, want)
	}
	return nil, fmt.Errorf("metric %q not found", name)
}

func hasLabels(labels []*dto.LabelPair, want []string) bool {
	for i := 0; i < len(want); i += 2 {
		found := false
		for _, l := range labels {
			if l.GetName() == want[i] && l.GetValue() == want[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
