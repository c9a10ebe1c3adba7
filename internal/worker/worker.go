package worker

import (
	"fmt"

	"meetscribe/internal/logging"
)

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

// Start runs the worker loop: offer itself as idle, take one job, repeat.
func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		for w.pool.Release(w.jobChannel) {
			job := <-w.jobChannel
			if job.Type == Stop {
				return
			}
			w.execute(job)
		}
	}()
}

func (w *Worker) execute(job Job) {
	if err := job.ctx.Err(); err != nil {
		job.finish(err)
		return
	}
	var err error
	defer func() {
		if r := recover(); r != nil {
			logging.Named("worker").Errorw("job panicked", "key", job.key, "panic", r)
			err = fmt.Errorf("worker: job panicked: %v", r)
		}
		job.finish(err)
	}()
	job.fn(job.ctx)
}
