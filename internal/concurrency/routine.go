package concurrency

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// SafeGo runs a function in a goroutine with panic recovery.
func SafeGo(fn func(), onPanic func(interface{})) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				slog.Error("Panic recovered", "panic", r, "stack", string(stack))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

// Supervised is a handle on a background goroutine. Wait blocks until it
// exits and returns its error; a recovered panic is reported as an error.
type Supervised struct {
	done chan struct{}
	once sync.Once
	err  error
}

// Go starts fn under supervision.
func Go(fn func() error) *Supervised {
	s := &Supervised{done: make(chan struct{})}
	SafeGo(func() {
		s.finish(fn())
	}, func(r interface{}) {
		s.finish(fmt.Errorf("panic: %v", r))
	})
	return s
}

func (s *Supervised) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Done is closed when the goroutine exits.
func (s *Supervised) Done() <-chan struct{} {
	return s.done
}

func (s *Supervised) Wait() error {
	<-s.done
	return s.err
}
