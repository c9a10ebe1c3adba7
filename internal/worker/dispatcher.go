package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrDispatcherBusy is returned when the queue cannot take another job.
	ErrDispatcherBusy   = errors.New("dispatcher busy")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type clientQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs jobs on a bounded worker pool. Jobs of one client key run
// in submission order; clients take turns so one burst cannot starve others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher

	mu        sync.Mutex
	queues    map[string]*clientQueue // job queue for each client
	ready     *list.List              // LRU queue storing client keys
	positions map[string]*list.Element

	pending atomic.Int64
	limit   int64
	closed  atomic.Bool
	quit    chan struct{}
	stopped chan struct{}
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = max(cfg.MinWorkers, 1)
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout)

	d := &Dispatcher{
		queues:    make(map[string]*clientQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		pool:      pool,
		JobQueue:  make(chan Job, cfg.QueueSize+cfg.MaxWorkers),
		limit:     int64(cfg.QueueSize + pool.max),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues fn for clientKey and blocks until it has run or ctx is done.
// A job whose ctx ends before a worker picks it up is skipped.
func (d *Dispatcher) Submit(ctx context.Context, clientKey string, fn func(context.Context)) error {
	if fn == nil {
		return errors.New("job function is required")
	}
	if d.closed.Load() {
		return ErrDispatcherClosed
	}
	if d.pending.Add(1) > d.limit {
		d.pending.Add(-1)
		return ErrDispatcherBusy
	}

	done := make(chan error, 1)
	job := Job{
		Type: Run,
		key:  clientKey,
		ctx:  ctx,
		fn:   fn,
		finish: func(err error) {
			d.pending.Add(-1)
			done <- err
		},
	}
	select {
	case d.JobQueue <- job:
	default:
		d.pending.Add(-1)
		return ErrDispatcherBusy
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports jobs accepted but not yet finished.
func (d *Dispatcher) Pending() int {
	return int(d.pending.Load())
}

// Close stops accepting jobs. Queued jobs fail with ErrDispatcherClosed and
// running jobs finish normally.
func (d *Dispatcher) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	close(d.quit)
	d.pool.close()
	<-d.stopped
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		d.drain()
		if d.dispatchOne() {
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			d.failQueued()
			return
		}
	}
}

// drain moves every job already waiting in JobQueue into the client queues
// so the next dispatch sees all clients.
func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.key]
	if q == nil {
		q = &clientQueue{}
		d.queues[job.key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		// client already enqueued, skip
		return
	}
	q.enqueued = true
	d.positions[job.key] = d.ready.PushBack(job.key)
}

// dispatchOne get first client in LRU and dispatch its job
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		// client has nothing else queued, leave the rotation
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		job.finish(ErrDispatcherClosed)
		return true
	}
	debugLog("assign job", "type", job.Type, "client", key, "worker", d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

func (d *Dispatcher) failQueued() {
	d.drain()
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, q := range d.queues {
		for _, job := range q.jobs {
			job.finish(ErrDispatcherClosed)
		}
		delete(d.queues, key)
	}
	d.ready.Init()
	clear(d.positions)
}
