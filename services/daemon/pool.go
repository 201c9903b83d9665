package daemon

import (
	"hash/fnv"
	"sync"

	"github.com/customeros/mailsync/internal/errors"
)

const (
	DefaultPoolSize   = 4
	DefaultQueueDepth = 64
)

// taskPool is the shared bounded executor fronting the database and other
// scarce resources. Tasks are routed to a slot by key, so all tasks for
// one user serialize on the same slot and complete in submission order.
type taskPool struct {
	slots []chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newTaskPool(size, queueDepth int) *taskPool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}

	p := &taskPool{
		slots: make([]chan func(), size),
	}
	for i := range p.slots {
		p.slots[i] = make(chan func(), queueDepth)
		p.wg.Add(1)
		go p.runSlot(p.slots[i])
	}
	return p
}

func (p *taskPool) runSlot(tasks <-chan func()) {
	defer p.wg.Done()
	for task := range tasks {
		task()
	}
}

// submit enqueues a task on the slot owning key. Fails fast when the pool
// is shut down or the slot queue is full; callers treat that as fatal.
func (p *taskPool) submit(key string, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrPoolShutDown
	}

	select {
	case p.slots[p.slotFor(key)] <- task:
		return nil
	default:
		return errors.ErrPoolSaturated
	}
}

func (p *taskPool) slotFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.slots)))
}

// shutdown stops accepting tasks, drains the queues and waits for the
// slot goroutines to exit.
func (p *taskPool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, slot := range p.slots {
		close(slot)
	}
	p.mu.Unlock()

	p.wg.Wait()
}
