package engine

// Metrics receives engine instrumentation. internal/metrics provides the
// Prometheus implementation.
type Metrics interface {
	RunStarted()
	RunEnded(outcome string)
	InstructionExecuted(kind string)
	InstructionSkipped(kind string)
	RunningActors(n int)
}

type nopMetrics struct{}

func (nopMetrics) RunStarted()                {}
func (nopMetrics) RunEnded(string)            {}
func (nopMetrics) InstructionExecuted(string) {}
func (nopMetrics) InstructionSkipped(string)  {}
func (nopMetrics) RunningActors(int)          {}
