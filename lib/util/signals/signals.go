// Package signals dispatches SIGINT/SIGTERM to registered handlers.
//
// The CLI registers one handler per command that cancels the command's
// context; conduits observe the cancellation and close their sockets.
package signals

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// sigChan is buffered to avoid missing signals delivered while no receiver is ready.
var sigChan = make(chan os.Signal, 1)

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID identifies a registered handler for DeregisterInterruptHandler.
type HandlerID int

type registeredHandler struct {
	id HandlerID
	fn Handler
}

var (
	mu           sync.RWMutex
	interrupters []registeredHandler
	nextID       HandlerID
	stopOnce     sync.Once
)

// RegisterInterruptHandler registers a handler called on SIGINT/SIGTERM.
// Nil handlers are ignored and return -1.
func RegisterInterruptHandler(f Handler) HandlerID {
	if f == nil {
		return -1
	}
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	interrupters = append(interrupters, registeredHandler{id: id, fn: f})
	return id
}

// DeregisterInterruptHandler removes a previously registered handler.
func DeregisterInterruptHandler(id HandlerID) {
	mu.Lock()
	defer mu.Unlock()
	for i, h := range interrupters {
		if h.id == id {
			interrupters = append(interrupters[:i], interrupters[i+1:]...)
			return
		}
	}
}

// WithInterrupt returns a copy of parent cancelled on SIGINT/SIGTERM. The
// returned stop function deregisters the handler and cancels the context.
func WithInterrupt(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	id := RegisterInterruptHandler(Handler(cancel))
	return ctx, func() {
		DeregisterInterruptHandler(id)
		cancel()
	}
}

func handleInterrupted() {
	mu.RLock()
	snapshot := make([]registeredHandler, len(interrupters))
	copy(snapshot, interrupters)
	mu.RUnlock()
	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{
						"at":      "signals.handleInterrupted",
						"handler": h.id,
						"panic":   r,
					}).Error("interrupt_handler_panicked")
				}
			}()
			h.fn()
		}()
	}
}

// StopHandle makes Handle return. Safe to call multiple times.
func StopHandle() {
	stopOnce.Do(func() {
		signal.Stop(sigChan)
		close(sigChan)
	})
}
