package persistence

import (
	"sync"
	"time"
)

type pendingSave struct {
	seq   uint64
	snap  *Snapshot
	timer *time.Timer
}

// autosaver debounces writes per session: each schedule replaces the pending
// snapshot and restarts the timer, so only the latest one is written.
type autosaver struct {
	mu       sync.Mutex
	delay    time.Duration
	pending  map[string]*pendingSave
	closed   bool
	inflight sync.WaitGroup
	// running counts timer writes in progress per session; idle is signalled
	// when a session's count drops to zero.
	running map[string]int
	idle    *sync.Cond
	write    func(sessionID string, seq uint64, snap *Snapshot)
}

func newAutosaver(delay time.Duration, write func(string, uint64, *Snapshot)) *autosaver {
	a := &autosaver{
		delay:   delay,
		pending: make(map[string]*pendingSave),
		running: make(map[string]int),
		write:   write,
	}
	a.idle = sync.NewCond(&a.mu)
	return a
}

func (a *autosaver) schedule(sessionID string, seq uint64, snap *Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	if p, ok := a.pending[sessionID]; ok {
		p.timer.Stop()
	}
	a.pending[sessionID] = &pendingSave{
		seq:   seq,
		snap:  snap,
		timer: time.AfterFunc(a.delay, func() { a.fire(sessionID) }),
	}
}

func (a *autosaver) fire(sessionID string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	p, ok := a.pending[sessionID]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.pending, sessionID)
	a.running[sessionID]++
	a.inflight.Add(1)
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.running[sessionID]--; a.running[sessionID] == 0 {
			delete(a.running, sessionID)
			a.idle.Broadcast()
		}
		a.mu.Unlock()
		a.inflight.Done()
	}()
	a.write(sessionID, p.seq, p.snap)
}

// wait blocks until no timer write for sessionID is running.
func (a *autosaver) wait(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.running[sessionID] > 0 {
		a.idle.Wait()
	}
}

// take removes and returns the pending save for sessionID, if any.
func (a *autosaver) take(sessionID string) (*pendingSave, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[sessionID]
	if ok {
		p.timer.Stop()
		delete(a.pending, sessionID)
	}
	return p, ok
}

// takeIfOlder drops the pending save for sessionID when it is older than seq.
func (a *autosaver) takeIfOlder(sessionID string, seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pending[sessionID]; ok && p.seq < seq {
		p.timer.Stop()
		delete(a.pending, sessionID)
	}
}

// flush writes the pending save for sessionID now.
func (a *autosaver) flush(sessionID string) {
	if p, ok := a.take(sessionID); ok {
		a.write(sessionID, p.seq, p.snap)
	}
}

// close stops all timers, waits for running writes and then writes whatever
// was still pending.
func (a *autosaver) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	left := a.pending
	a.pending = make(map[string]*pendingSave)
	for _, p := range left {
		p.timer.Stop()
	}
	a.mu.Unlock()

	a.inflight.Wait()
	for sessionID, p := range left {
		a.write(sessionID, p.seq, p.snap)
	}
}

func (a *autosaver) pendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
