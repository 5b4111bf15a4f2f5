package metrics

// NopMetrics discards every measurement. Used in tests and when the ops
// endpoint is disabled.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

func NewNop() *NopMetrics { return &NopMetrics{} }

func (n *NopMetrics) RecordJoin(_ string) {}
func (n *NopMetrics) ObserveJoinLatency(_ float64) {}
func (n *NopMetrics) RecordFloodWait(_ float64) {}
func (n *NopMetrics) RecordReplacement(_ bool) {}
func (n *NopMetrics) SetActiveWorkers(_ int) {}
func (n *NopMetrics) RecordCycle(_ string, _ float64) {}
func (n *NopMetrics) RecordDistributed(_ int) {}
func (n *NopMetrics) SetBacklog(_ /* reserve */, _ /* dead */, _ /* pending */ int) {}
