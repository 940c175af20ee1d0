package io

import (
	"bufio"
	"io"
	"sync"
	"time"
)

// TimedWriter is a buffered writer that flushes once a number of writes
// is queued, or once the flush deadline passes after the first queued write.
type TimedWriter struct {
	mutex    sync.Mutex
	w        *bufio.Writer
	deadline time.Duration
	maxQueue int

	queueSize int
	timer     *time.Timer
	prevErr   error
}

func NewTimedWriter(w io.Writer, bufsize int) *TimedWriter {
	return &TimedWriter{
		w:        bufio.NewWriterSize(w, bufsize),
		deadline: 1 * time.Second,
		maxQueue: 8,
	}
}

// SetDeadline sets the flush deadline. Zero flushes on every write.
func (w *TimedWriter) SetDeadline(d time.Duration) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.deadline = d
}

// SetMaxQueue sets the number of writes after which the buffer is flushed.
func (w *TimedWriter) SetMaxQueue(s int) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.maxQueue = s
}

func (w *TimedWriter) Flush() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.flush()
}

// Write queues p. An error from an earlier background flush is
// reported by the next Write.
func (w *TimedWriter) Write(p []byte) (n int, err error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if err := w.prevErr; err != nil {
		w.prevErr = nil
		return 0, err
	}

	n, err = w.w.Write(p)
	if err != nil {
		return n, err
	}

	w.queueSize++
	if w.deadline == 0 || w.queueSize >= w.maxQueue {
		return n, w.flush()
	}

	if w.timer == nil {
		w.timer = time.AfterFunc(w.deadline, func() { w.Flush() })
	}
	return n, nil
}

func (w *TimedWriter) flush() error {
	err := w.w.Flush()
	if err != nil {
		w.prevErr = err
	}

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.queueSize = 0

	return err
}
