package iomanager

import "sync"

// worker is the single dedicated goroutine that owns the registry, the
// FD pool and the filesystem: spec.md §5's single-writer discipline.
// Nothing outside this goroutine ever touches those structures, so none
// of them need locks.
type worker struct {
	queue   *priorityQueue
	metrics *metrics // set once by Init, before start

	shutdownMu   sync.Mutex
	shutdownCond *sync.Cond
	shutdownDone bool

	done chan struct{}
}

func newWorker() *worker {
	w := &worker{queue: newPriorityQueue(), done: make(chan struct{})}
	w.shutdownCond = sync.NewCond(&w.shutdownMu)
	return w
}

// start launches the worker loop on its own goroutine and returns at
// once. The loop exits once the queue is drained after shutdown.
func (w *worker) start() {
	go w.loop()
}

func (w *worker) loop() {
	defer close(w.done)
	for {
		item, ok := w.queue.pop()
		if !ok {
			return
		}
		item.run()
		w.reportDepth(item.class)
	}
}

// submit posts item to the worker at its priority class.
func (w *worker) submit(class priorityClass, run func()) {
	w.queue.push(workItem{class: class, run: run})
	w.reportDepth(class)
}

// reportDepth updates the queue_depth gauge for class, if metrics are
// wired. Called after both push and pop so the gauge reflects the
// pending count on either side of a transition.
func (w *worker) reportDepth(class priorityClass) {
	if w.metrics == nil {
		return
	}
	w.metrics.queueDepth.WithLabelValues(w.metrics.classLabel(class)).Set(float64(w.queue.len(class)))
}

// awaitShutdownAck blocks the controlling goroutine until the worker's
// shutdown handler signals completion, mirroring spec.md §4.4's
// "wait on a condition variable for the worker to acknowledge".
func (w *worker) awaitShutdownAck() {
	w.shutdownMu.Lock()
	for !w.shutdownDone {
		w.shutdownCond.Wait()
	}
	w.shutdownMu.Unlock()
}

// ackShutdown is called by the shutdown handler, on the worker
// goroutine, once the drain is complete.
func (w *worker) ackShutdown() {
	w.shutdownMu.Lock()
	w.shutdownDone = true
	w.shutdownMu.Unlock()
	w.shutdownCond.Broadcast()
	w.queue.closeWhenDrained()
}

// stopped is closed once the worker loop has returned.
func (w *worker) stopped() <-chan struct{} {
	return w.done
}
