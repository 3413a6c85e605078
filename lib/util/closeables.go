package util

import (
	"io"
	"sync"
)

var (
	closeOnExit []io.Closer
	closeMutex  sync.Mutex
)

// RegisterCloser registers an io.Closer, typically a session or conduit, to
// be closed by CloseAll on shutdown.
func RegisterCloser(c io.Closer) {
	if c == nil {
		return
	}
	closeMutex.Lock()
	defer closeMutex.Unlock()
	closeOnExit = append(closeOnExit, c)
	log.WithField("count", len(closeOnExit)).Debug("registered_closer")
}

// CloseAll closes the registered closers in reverse registration order and
// clears the list. Conduits registered after their dependencies are closed
// first.
func CloseAll() {
	closeMutex.Lock()
	closers := closeOnExit
	closeOnExit = nil
	closeMutex.Unlock()

	log.WithField("count", len(closers)).Debug("closing_registered_closers")
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			log.WithError(err).Warn("close_failed")
		}
	}
}
