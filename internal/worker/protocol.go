// Package worker implements the parent/worker message protocol and the
// request loop run by worker processes.
package worker

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pendergraft/contraverify/internal/chains/evm/compiler"
	"github.com/pendergraft/contraverify/internal/records"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

// Events exchanged between parent and worker. The parent sends verify and
// done; the worker sends ready and result.
const (
	EventReady  = "ready"
	EventVerify = "verify"
	EventResult = "result"
	EventDone   = "done"
)

// ErrProtocol is returned for messages that break the protocol.
var ErrProtocol = errors.New("worker protocol violation")

// Message is one newline-delimited JSON frame.
type Message struct {
	Event    string            `json:"event"`
	Contract *records.Contract `json:"contract,omitempty"`
	Result   *Result           `json:"result,omitempty"`
}

// Result is the outcome of one verify request.
type Result struct {
	Warnings []compiler.Diagnostic `json:"warnings,omitempty"`
	Err      string                `json:"err,omitempty"`
	Kind     string                `json:"kind,omitempty"`
}

// NewResult builds the result for a verification outcome.
func NewResult(warnings []compiler.Diagnostic, err error) *Result {
	if err != nil {
		return &Result{Err: err.Error(), Kind: domain.KindOf(err)}
	}
	return &Result{Warnings: warnings}
}

// Failed reports whether the verification failed.
func (r *Result) Failed() bool {
	return r.Err != ""
}

// Error returns the failure as an error matching its kind's sentinel, nil
// on success.
func (r *Result) Error() error {
	if !r.Failed() {
		return nil
	}
	return &domain.KindError{Kind: r.Kind, Message: r.Err}
}

// Conn is one end of a worker channel.
type Conn struct {
	dec *json.Decoder

	mu sync.Mutex
	w  *bufio.Writer
}

// NewConn creates a connection reading from r and writing to w.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{
		dec: json.NewDecoder(bufio.NewReader(r)),
		w:   bufio.NewWriter(w),
	}
}

// Send writes one message.
func (c *Conn) Send(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", m.Event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return err
	}
	return c.w.Flush()
}

// Receive reads one message. io.EOF is returned unchanged when the peer
// closed the channel between messages.
func (c *Conn) Receive() (Message, error) {
	var m Message
	if err := c.dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := validate(m); err != nil {
		return Message{}, err
	}
	return m, nil
}

func validate(m Message) error {
	switch m.Event {
	case EventReady, EventDone:
		return nil
	case EventVerify:
		if m.Contract == nil {
			return fmt.Errorf("%w: verify without contract", ErrProtocol)
		}
		return nil
	case EventResult:
		if m.Result == nil {
			return fmt.Errorf("%w: result without payload", ErrProtocol)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown event %q", ErrProtocol, m.Event)
	}
}
