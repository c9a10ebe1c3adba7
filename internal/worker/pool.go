package worker

import (
	"sync"
	"time"
)

const defaultWorkerIdle = 30 * time.Second

// slot is the pool's view of one worker goroutine.
type slot struct {
	id       int
	ch       chan Job
	idleFrom time.Time
	parked   bool // waiting in the idle stack
	retired  bool
}

// jobChannelPool hands out worker channels. Idle workers are kept on a
// stack so the most recently used ones are reused first and the cold ones
// at the bottom are the ones that expire.
type jobChannelPool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	idle  []*slot
	slots map[chan Job]*slot

	min, max int
	running  int
	lastID   int
	expiry   time.Duration

	closed bool
	quit   chan struct{}
}

func newJobChannelPool(minWorkers, maxWorkers int, idle time.Duration) *jobChannelPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	minWorkers = max(minWorkers, 0)
	maxWorkers = max(maxWorkers, minWorkers, 1)

	p := &jobChannelPool{
		slots:  make(map[chan Job]*slot),
		min:    minWorkers,
		max:    maxWorkers,
		expiry: idle,
		quit:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.reapLoop()
	return p
}

// addLocked registers a new worker. The caller starts it after unlocking.
func (p *jobChannelPool) addLocked() *Worker {
	p.lastID++
	w := NewWorker(p)
	p.slots[w.jobChannel] = &slot{id: p.lastID, ch: w.jobChannel}
	p.running++
	return w
}

// spawnWorker starts one more worker if there is room. Used for warm-up.
func (p *jobChannelPool) spawnWorker() {
	p.mu.Lock()
	if p.closed || p.running >= p.max {
		p.mu.Unlock()
		return
	}
	w := p.addLocked()
	p.mu.Unlock()
	w.Start()
}

// acquire blocks until a worker is idle, growing the pool up to max.
// It returns nil once the pool is closed.
func (p *jobChannelPool) acquire() chan Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed {
		if n := len(p.idle); n > 0 {
			s := p.idle[n-1]
			p.idle = p.idle[:n-1]
			s.parked = false
			return s.ch
		}
		if p.running < p.max {
			w := p.addLocked()
			// Start only launches a goroutine; it does not take the lock.
			w.Start()
			p.cond.Wait()
			continue
		}
		p.cond.Wait()
	}
	return nil
}

// Release parks a worker as idle. False tells the worker to exit.
func (p *jobChannelPool) Release(ch chan Job) bool {
	p.mu.Lock()
	s, ok := p.slots[ch]
	if p.closed || !ok || s.retired {
		p.mu.Unlock()
		return false
	}
	if !s.parked {
		s.parked = true
		s.idleFrom = time.Now()
		p.idle = append(p.idle, s)
	}
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

// retire forgets a worker whose goroutine is exiting.
func (p *jobChannelPool) retire(ch chan Job) {
	p.mu.Lock()
	if s, ok := p.slots[ch]; ok {
		s.retired = true
		delete(p.slots, ch)
		p.running--
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *jobChannelPool) workerID(ch chan Job) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.slots[ch]; ok {
		return s.id
	}
	return 0
}

func (p *jobChannelPool) size() (running, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, len(p.idle)
}

func (p *jobChannelPool) reapLoop() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case now := <-ticker.C:
			p.reap(now)
		}
	}
}

// reap stops idle workers that have waited longer than the expiry, never
// going below min. The stack bottom holds the longest-idle workers.
func (p *jobChannelPool) reap(now time.Time) {
	p.mu.Lock()
	n := 0
	for n < len(p.idle) && p.running-n > p.min && now.Sub(p.idle[n].idleFrom) >= p.expiry {
		n++
	}
	stale := append([]*slot(nil), p.idle[:n]...)
	p.idle = append(p.idle[:0], p.idle[n:]...)
	for _, s := range stale {
		s.parked = false
		s.retired = true
	}
	p.mu.Unlock()

	for _, s := range stale {
		debugLog("retire idle worker", "worker", s.id)
		s.ch <- Job{Type: Stop}
	}
}

// close stops idle workers and wakes anyone blocked in acquire. Busy
// workers exit after their current job.
func (p *jobChannelPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	idle := p.idle
	p.idle = nil
	for _, s := range idle {
		s.retired = true
	}
	p.mu.Unlock()
	p.cond.Broadcast()

	for _, s := range idle {
		s.ch <- Job{Type: Stop}
	}
}
