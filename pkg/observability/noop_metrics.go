package observability

import "time"

// NoOpMetricsClient is a metrics client that discards everything. Used as the
// default when no metrics client is wired, and in tests.
type NoOpMetricsClient struct{}

// NewNoOpMetricsClient creates a new no-op metrics client
func NewNoOpMetricsClient() MetricsClient {
	return &NoOpMetricsClient{}
}

func (m *NoOpMetricsClient) RecordCounter(name string, value float64, labels map[string]string)   {}
func (m *NoOpMetricsClient) RecordGauge(name string, value float64, labels map[string]string)     {}
func (m *NoOpMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {}
func (m *NoOpMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
}
func (m *NoOpMetricsClient) RecordCacheOperation(operation string, success bool, durationSeconds float64) {
}
func (m *NoOpMetricsClient) RecordOperation(component string, operation string, success bool, durationSeconds float64, labels map[string]string) {
}
func (m *NoOpMetricsClient) RecordDatabaseOperation(operation string, success bool, durationSeconds float64) {
}
func (m *NoOpMetricsClient) StartTimer(name string, labels map[string]string) func() {
	return func() {}
}
func (m *NoOpMetricsClient) IncrementCounter(name string, value float64) {}
func (m *NoOpMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}
func (m *NoOpMetricsClient) Close() error { return nil }
