// Package worker speaks the runner message protocol as a CBOR sequence over
// a byte stream, typically a child process's stdin and stdout.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/runner"
)

// encMode writes Core Deterministic CBOR so identical messages produce
// identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("worker: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("worker: CBOR decoder initialization failed: " + err.Error())
	}
}

// NewEncoder returns an encoder for Request and Message values.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a decoder for Request and Message values.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// Submitter accepts conversion requests.
type Submitter interface {
	Submit(ctx context.Context, req runner.Request) (*runner.Job, error)
}

// Serve reads requests from in and writes every resulting message to out
// until in is exhausted or ctx ends. Rejected requests produce a single
// error message with an empty job id. Serve returns after every accepted
// job has written its terminal message.
func Serve(ctx context.Context, in io.Reader, out io.Writer, jobs Submitter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &writer{enc: NewEncoder(out)}

	type decoded struct {
		req runner.Request
		err error
	}
	reqs := make(chan decoded)
	go func() {
		dec := NewDecoder(in)
		for {
			var req runner.Request
			err := dec.Decode(&req)
			select {
			case reqs <- decoded{req: req, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var d decoded
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case d = <-reqs:
		}
		if errors.Is(d.err, io.EOF) {
			return nil
		}
		if d.err != nil {
			err := fmt.Errorf("worker: decode request: %w", d.err)
			_ = w.write(errorMessage("", err)) //nolint:errcheck // the stream is already broken
			return err
		}

		job, err := jobs.Submit(ctx, d.req)
		if err != nil {
			logger.Debug("request rejected", "error", err)
			if werr := w.write(errorMessage("", err)); werr != nil {
				return werr
			}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop := context.AfterFunc(ctx, job.Cancel)
			defer stop()
			for msg := range job.Messages() {
				if err := w.write(msg); err != nil {
					logger.Warn("failed to write message", "job", job.ID(), "error", err)
					job.Cancel()
				}
			}
		}()
	}
}

func errorMessage(id string, err error) runner.Message {
	return runner.Message{
		JobID:   id,
		Type:    runner.TypeError,
		Message: err.Error(),
		State:   jobtype.Terminal(err).String(),
	}
}

// writer serializes messages from concurrent jobs.
type writer struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

func (w *writer) write(msg runner.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(msg)
}
