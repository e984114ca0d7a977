package worker

// State is the lifecycle position of a Worker.
type State int32

const (
	StateUninitialized State = iota
	StateLoadingContext
	StateIdle
	StateProcessingJob
	StateFlushing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoadingContext:
		return "loading-context"
	case StateIdle:
		return "idle"
	case StateProcessingJob:
		return "processing-job"
	case StateFlushing:
		return "flushing"
	case StateDone:
		return "done"
	}
	return "unknown"
}
