package executor

import (
	"github.com/hashicorp/go-multierror"
)

// Task is a handle on a scheduled request
type Task struct {
	done   chan struct{}
	result *Result
	err    error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

func (t *Task) finish(result *Result, err error) {
	t.result = result
	t.err = err
	close(t.done)
}

// Done is closed once the result is available
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the request completed and returns its outcome
func (t *Task) Wait() (*Result, error) {
	<-t.done
	return t.result, t.err
}

// Wait waits for every task and returns their results in order. The error
// combines the failures of all tasks.
func Wait(tasks ...*Task) ([]*Result, error) {
	results := make([]*Result, len(tasks))
	var errs *multierror.Error
	for i, t := range tasks {
		result, err := t.Wait()
		results[i] = result
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return results, errs.ErrorOrNil()
}
