package iomanager

import "sync"

// priorityClass is one of the four scheduling tiers spec.md §5 defines,
// highest first.
type priorityClass int

const (
	classOpenReadDoomPriority priorityClass = iota // OPEN_PRIORITY / READ_PRIORITY / DOOM_PRIORITY
	classOpenRead                                  // OPEN / READ (default)
	classWriteDoom                                  // WRITE / non-priority DOOM
	classClose                                      // handle cleanup, ReleaseFD, shutdown
	numClasses
)

// workItem is a unit of work posted to the worker: a thunk capturing
// whatever arguments the dispatcher call needed, at the priority class
// that call resolved to.
type workItem struct {
	class priorityClass
	run   func()
}

// priorityQueue is four FIFO sub-queues drained strictly by priority
// class — not a single time-ordered heap, because spec.md §5 only
// requires FIFO *within* a class, not a single total order across
// classes. A sync.Cond wakes the worker when any sub-queue gains work or
// when shutdown is requested.
type priorityQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queues   [numClasses][]workItem
	draining bool
}

func newPriorityQueue() *priorityQueue {
	q := &priorityQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues item and wakes the worker.
func (q *priorityQueue) push(item workItem) {
	q.mu.Lock()
	q.queues[item.class] = append(q.queues[item.class], item)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until a work item is available and returns it, highest
// priority class first. Returns ok == false once the queue has been
// drained and closed (post-shutdown, no more work will ever arrive).
func (q *priorityQueue) pop() (workItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for class := priorityClass(0); class < numClasses; class++ {
			if len(q.queues[class]) > 0 {
				item := q.queues[class][0]
				q.queues[class] = q.queues[class][1:]
				return item, true
			}
		}
		if q.draining {
			return workItem{}, false
		}
		q.cond.Wait()
	}
}

// len reports the current number of pending items in class, for gauge
// reporting.
func (q *priorityQueue) len(class priorityClass) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[class])
}

// closeWhenDrained marks the queue as draining; pop returns ok == false
// once every sub-queue is empty. Used after the shutdown item itself has
// been processed.
func (q *priorityQueue) closeWhenDrained() {
	q.mu.Lock()
	q.draining = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
