package main

import "github.com/cachefileio/cachefileio/iomanager"

// syncListener adapts the engine's async Listener contract to a single
// blocking call, which is all a CLI invocation needs: issue one
// dispatcher call, wait for its one completion, exit.
type syncListener struct {
	done   chan struct{}
	handle *iomanager.Handle
	buf    []byte
	err    error
}

func newSyncListener() *syncListener {
	return &syncListener{done: make(chan struct{}, 1)}
}

func (l *syncListener) wait() (*iomanager.Handle, []byte, error) {
	<-l.done
	return l.handle, l.buf, l.err
}

func (l *syncListener) OnFileOpened(h *iomanager.Handle, err error) {
	l.handle, l.err = h, err
	l.done <- struct{}{}
}

func (l *syncListener) OnDataRead(h *iomanager.Handle, buf []byte, err error) {
	l.handle, l.buf, l.err = h, buf, err
	l.done <- struct{}{}
}

func (l *syncListener) OnDataWritten(h *iomanager.Handle, buf []byte, err error) {
	l.handle, l.buf, l.err = h, buf, err
	l.done <- struct{}{}
}

func (l *syncListener) OnFileDoomed(h *iomanager.Handle, err error) {
	l.handle, l.err = h, err
	l.done <- struct{}{}
}

func (l *syncListener) OnEOFSet(h *iomanager.Handle, err error) {
	l.handle, l.err = h, err
	l.done <- struct{}{}
}
