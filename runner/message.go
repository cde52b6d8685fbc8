package runner

import (
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/repack/extract"
	"github.com/meigma/repack/format"
	"github.com/meigma/repack/pack"
)

// CmdConvert is the only command a runner accepts.
const CmdConvert = "convert"

// Request asks a runner to convert an archive.
//
// Buffer ownership passes to the runner on Submit; callers must not modify
// it afterwards.
type Request struct {
	Cmd          string `json:"cmd" cbor:"cmd"`
	TargetFormat string `json:"targetFormat" cbor:"targetFormat"`
	Buffer       []byte `json:"buffer,omitempty" cbor:"buffer,omitempty"`
	Password     string `json:"password,omitempty" cbor:"password,omitempty"`

	// Name is the input file name, used only to suggest an output name.
	Name string `json:"name,omitempty" cbor:"name,omitempty"`
}

// MessageType distinguishes outbound messages.
type MessageType string

// Outbound message types.
const (
	TypeProgress MessageType = "progress"
	TypeDone     MessageType = "done"
	TypeError    MessageType = "error"
)

// Message is an outbound notification about a job. Progress messages may be
// dropped when the consumer lags; exactly one done or error message ends
// every job.
type Message struct {
	JobID   string      `json:"id" cbor:"id"`
	Type    MessageType `json:"type" cbor:"type"`
	Percent int         `json:"percent" cbor:"percent"`

	// Buffer holds the output archive on done. Ownership passes to the receiver.
	Buffer []byte `json:"buffer,omitempty" cbor:"buffer,omitempty"`

	// Digest is the output's content digest on done.
	Digest string `json:"digest,omitempty" cbor:"digest,omitempty"`

	// Name is the suggested output file name on done.
	Name string `json:"name,omitempty" cbor:"name,omitempty"`

	// Message describes the failure on error.
	Message string `json:"message,omitempty" cbor:"message,omitempty"`

	// State is the terminal job state on done and error.
	State string `json:"state,omitempty" cbor:"state,omitempty"`
}

// Terminal reports whether m ends its job.
func (m Message) Terminal() bool {
	return m.Type == TypeDone || m.Type == TypeError
}

// Result is a finished conversion.
type Result struct {
	Buffer   []byte
	Digest   digest.Digest
	Format   format.Format
	Name     string
	Extract  extract.Stats
	Pack     pack.Result
	Duration time.Duration
}
