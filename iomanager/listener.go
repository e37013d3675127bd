package iomanager

// Listener receives the outcome of an engine operation, never on the
// worker goroutine (spec.md §6). Completions are delivered through the
// Manager's Completer; a call rejected up front (engine shutting down,
// bad flags) calls the listener directly on the calling goroutine.
type Listener interface {
	OnFileOpened(h *Handle, err error)
	OnDataRead(h *Handle, buf []byte, err error)
	OnDataWritten(h *Handle, buf []byte, err error)
	// OnFileDoomed's handle may be nil when invoked from DoomFileByKey
	// with no live handle.
	OnFileDoomed(h *Handle, err error)
	OnEOFSet(h *Handle, err error)
}

// NopListener implements Listener with no-op methods, useful for fire-
// and-forget calls (e.g. a background DoomFile) and in tests that only
// care about side effects on the Handle.
type NopListener struct{}

func (NopListener) OnFileOpened(*Handle, error)     {}
func (NopListener) OnDataRead(*Handle, []byte, error) {}
func (NopListener) OnDataWritten(*Handle, []byte, error) {}
func (NopListener) OnFileDoomed(*Handle, error)     {}
func (NopListener) OnEOFSet(*Handle, error)         {}

// Completer abstracts "run this function on the thread that submitted
// the original call" (spec.md §9's suggested abstraction over the
// caller's event loop). CallbackCompleter runs completions on a
// dedicated goroutine reading from a channel, which is sufficient for a
// Go program where "the caller's thread" has no privileged meaning the
// way it does on the original's main/IO thread split.
type Completer interface {
	Post(func())
}

// CallbackCompleter posts completions onto a buffered channel drained by
// a single goroutine, preserving submission order for completions that
// share it.
type CallbackCompleter struct {
	ch chan func()
}

// NewCallbackCompleter starts the drain goroutine and returns a ready
// Completer.
func NewCallbackCompleter() *CallbackCompleter {
	c := &CallbackCompleter{ch: make(chan func(), 256)}
	go c.drain()
	return c
}

func (c *CallbackCompleter) drain() {
	for fn := range c.ch {
		fn()
	}
}

// Post enqueues fn for execution on the drain goroutine.
func (c *CallbackCompleter) Post(fn func()) {
	c.ch <- fn
}

// Close stops accepting further completions. Only safe to call once no
// further Post calls are in flight.
func (c *CallbackCompleter) Close() {
	close(c.ch)
}
