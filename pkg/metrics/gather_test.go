package metrics

import (
	"fmt"

	dto "github.com/prometheus/client_model/go"
	"github.com/samber/lo"
)

// fetchCounterValue returns the counter of family name whose label matches.
func fetchCounterValue(families []*dto.MetricFamily, name, label, value string) (float64, error) {
	family, ok := lo.Find(families, func(mf *dto.MetricFamily) bool { return mf.GetName() == name })
	if !ok {
		return 0, fmt.Errorf("metric %q not gathered", name)
	}
	metric, ok := lo.Find(family.GetMetric(), func(m *dto.Metric) bool {
		return lo.ContainsBy(m.GetLabel(), func(p *dto.LabelPair) bool {
			return p.GetName() == label && p.GetValue() == value
		})
	})
	if !ok {
		return 0, fmt.Errorf("metric %q has no series %s=%q", name, label, value)
	}
	return metric.GetCounter().GetValue(), nil
}
