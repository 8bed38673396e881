package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/chains/evm/compiler"
	"github.com/pendergraft/contraverify/internal/records"
)

type mockVerifier struct {
	failures map[string]error
	seen     []string
}

func (m *mockVerifier) Verify(ctx context.Context, c *records.Contract) ([]compiler.Diagnostic, error) {
	m.seen = append(m.seen, c.ID)
	if err := m.failures[c.ID]; err != nil {
		return nil, err
	}
	return []compiler.Diagnostic{{Severity: "warning", Message: "w-" + c.ID}}, nil
}

// pipePair connects a parent and a worker Conn in memory.
func pipePair() (parent, child *Conn, closeParent func()) {
	toChild, parentOut := io.Pipe()
	toParent, childOut := io.Pipe()
	return NewConn(toParent, parentOut), NewConn(toChild, childOut), func() { parentOut.Close() }
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServe(t *testing.T) {
	parent, child, _ := pipePair()
	v := &mockVerifier{failures: map[string]error{
		"b": fmt.Errorf("chain check: %w", evm.ErrChainDataInconsistent),
	}}

	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), child, v, testLogger()) }()

	m, err := parent.Receive()
	require.NoError(t, err)
	assert.Equal(t, EventReady, m.Event)

	require.NoError(t, parent.Send(Message{Event: EventVerify, Contract: &records.Contract{ID: "a"}}))
	m, err = parent.Receive()
	require.NoError(t, err)
	require.Equal(t, EventResult, m.Event)
	assert.False(t, m.Result.Failed())
	assert.Equal(t, "w-a", m.Result.Warnings[0].Message)

	require.NoError(t, parent.Send(Message{Event: EventVerify, Contract: &records.Contract{ID: "b"}}))
	m, err = parent.Receive()
	require.NoError(t, err)
	require.True(t, m.Result.Failed())
	assert.Equal(t, "ChainDataInconsistent", m.Result.Kind)
	assert.ErrorIs(t, m.Result.Error(), evm.ErrChainDataInconsistent)

	require.NoError(t, parent.Send(Message{Event: EventDone}))
	require.NoError(t, <-done)
	assert.Equal(t, []string{"a", "b"}, v.seen)
}

func TestServe_ParentClosed(t *testing.T) {
	parent, child, closeParent := pipePair()

	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), child, &mockVerifier{}, testLogger()) }()

	_, err := parent.Receive()
	require.NoError(t, err)
	closeParent()
	assert.NoError(t, <-done)
}

func TestServe_ProtocolViolation(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"unknown event", Message{Event: "compile"}},
		{"verify without contract", Message{Event: EventVerify}},
		{"worker event from parent", Message{Event: EventReady}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent, child, _ := pipePair()
			done := make(chan error, 1)
			go func() { done <- Serve(context.Background(), child, &mockVerifier{}, testLogger()) }()

			_, err := parent.Receive()
			require.NoError(t, err)
			require.NoError(t, parent.Send(tt.msg))
			assert.ErrorIs(t, <-done, ErrProtocol)
		})
	}
}

func TestConn_Receive(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"ready", `{"event":"ready"}` + "\n", nil},
		{"result", `{"event":"result","result":{"warnings":[]}}` + "\n", nil},
		{"result without payload", `{"event":"result"}` + "\n", ErrProtocol},
		{"garbage", "not json\n", ErrProtocol},
		{"unknown", `{"event":"hello"}` + "\n", ErrProtocol},
		{"eof", "", io.EOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := NewConn(strings.NewReader(tt.input), io.Discard)
			_, err := conn.Receive()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestNewResult(t *testing.T) {
	ok := NewResult([]compiler.Diagnostic{{Message: "w"}}, nil)
	assert.False(t, ok.Failed())
	assert.NoError(t, ok.Error())

	failed := NewResult(nil, fmt.Errorf("source check: %w", compiler.ErrCompilationFailed))
	assert.True(t, failed.Failed())
	assert.Equal(t, "CompilationFailed", failed.Kind)
	assert.ErrorIs(t, failed.Error(), compiler.ErrCompilationFailed)
}
