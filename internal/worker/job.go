package worker

import "context"

type JobType int

const (
	Run JobType = iota
	Stop
)

func (t JobType) String() string {
	switch t {
	case Run:
		return "run"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Job is one unit of work for a worker. Stop jobs carry no payload.
type Job struct {
	Type   JobType
	key    string
	ctx    context.Context
	fn     func(context.Context)
	finish func(error)
}
