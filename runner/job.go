package runner

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/meigma/repack/format"
	"github.com/meigma/repack/internal/jobtype"
)

const (
	// messageBuffer is the capacity of a job's message channel.
	messageBuffer = 64

	// reservedSlots keeps room for the final 100% progress message and the
	// terminal message, which are never dropped.
	reservedSlots = 2
)

// Job is a submitted conversion.
type Job struct {
	id       string
	format   format.Format
	name     string
	password string

	// buf is released once extraction no longer needs it.
	buf []byte

	msgs chan Message
	done chan struct{}

	canceled atomic.Bool
	state    atomic.Uint32

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	result Result
	err    error
}

func newJob(id string, req Request, f format.Format) *Job {
	return &Job{
		id:       id,
		format:   f,
		name:     req.Name,
		password: req.Password,
		buf:      req.Buffer,
		msgs:     make(chan Message, messageBuffer),
		done:     make(chan struct{}),
	}
}

// ID returns the job id.
func (j *Job) ID() string {
	return j.id
}

// Format returns the target format.
func (j *Job) Format() format.Format {
	return j.format
}

// Messages returns the job's notifications. The channel is closed after the
// terminal message.
func (j *Job) Messages() <-chan Message {
	return j.msgs
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// State returns the job's current state.
func (j *Job) State() jobtype.State {
	return jobtype.State(j.state.Load())
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.result, j.err
	case <-ctx.Done():
		return Result{}, context.Cause(ctx)
	}
}

// Cancel requests cancellation. A queued job ends without running; a running
// job stops at its next checkpoint or when its engine observes the context.
func (j *Job) Cancel() {
	j.canceled.Store(true)
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel(jobtype.ErrCanceled)
	}
}

// bind attaches the job's context cancel function.
func (j *Job) bind(cancel context.CancelCauseFunc) {
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()
	if j.canceled.Load() {
		cancel(jobtype.ErrCanceled)
	}
}

// checkpoint returns ErrCanceled once Cancel has been called.
func (j *Job) checkpoint() error {
	if j.canceled.Load() {
		return jobtype.ErrCanceled
	}
	return nil
}

func (j *Job) setState(s jobtype.State) {
	j.state.Store(uint32(s))
}

// progress sends a progress message unless the consumer has fallen behind.
// Only the job's worker sends, so the length check cannot race another sender.
func (j *Job) progress(percent int) {
	free := cap(j.msgs) - len(j.msgs)
	if free <= reservedSlots && !(percent == 100 && free > 1) {
		return
	}
	j.msgs <- Message{JobID: j.id, Type: TypeProgress, Percent: percent}
}

// finish records the outcome, sends the terminal message and closes the
// message channel.
func (j *Job) finish(res Result, err error) {
	state := jobtype.Terminal(err)
	j.setState(state)

	j.mu.Lock()
	j.result = res
	j.err = err
	j.buf = nil
	j.mu.Unlock()

	msg := Message{JobID: j.id, State: state.String()}
	if err != nil {
		msg.Type = TypeError
		msg.Message = err.Error()
	} else {
		msg.Type = TypeDone
		msg.Percent = 100
		msg.Buffer = res.Buffer
		msg.Digest = res.Digest.String()
		msg.Name = res.Name
	}
	j.msgs <- msg
	close(j.msgs)
	close(j.done)
}
