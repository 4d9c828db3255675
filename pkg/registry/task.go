package registry

import "fmt"

// Task is a result computed on another goroutine. A handler may return a
// *Task; the dispatcher awaits it before building the response.
type Task struct {
	done  chan struct{}
	value any
	err   error
}

// Spawn runs fn on a new goroutine. A panic in fn becomes the task error.
func Spawn(fn func() (any, error)) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("panic: %v", r)
			}
			close(t.done)
		}()
		t.value, t.err = fn()
	}()
	return t
}

// Await blocks until the task completes.
func (t *Task) Await() (any, error) {
	<-t.done
	return t.value, t.err
}
