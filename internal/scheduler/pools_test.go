package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolSet_Acquire(t *testing.T) {
	a := contracts("a", 2)
	b := contracts("b", 1)
	p := newPoolSet(append(a, b...))

	v, job, wait := p.acquire()
	assert.Equal(t, "a", v, "ties go to the lowest version")
	assert.Same(t, a[1], job, "job is reserved with the version")
	assert.False(t, wait)

	v, job, _ = p.acquire()
	assert.Equal(t, "a", v, "warm version preferred")
	assert.Same(t, a[0], job)

	// a is drained but still bound, so b waits for it.
	v, job, wait = p.acquire()
	assert.Empty(t, v)
	assert.Nil(t, job)
	assert.True(t, wait, "bound version with no pending job is waited on")

	p.release("a")
	v, _, wait = p.acquire()
	assert.Empty(t, v)
	assert.True(t, wait, "a is still bound to one slot")

	p.release("a")
	v, job, wait = p.acquire()
	assert.Equal(t, "b", v)
	assert.Same(t, b[0], job)
	assert.False(t, wait)

	p.release("b")
	v, job, wait = p.acquire()
	assert.Empty(t, v)
	assert.Nil(t, job)
	assert.False(t, wait)
	assert.Equal(t, 1, p.peakVersions())
}

func TestPoolSet_AcquireSelection(t *testing.T) {
	tests := []struct {
		name    string
		bind    []string
		want    string
		wantJob bool
	}{
		{name: "all unbound go lexical", want: "0.4.24", wantJob: true},
		{name: "most bound wins", bind: []string{"0.5.1"}, want: "0.5.1", wantJob: true},
		{name: "tie between bound goes lexical", bind: []string{"0.5.1", "0.4.24"}, want: "0.4.24", wantJob: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPoolSet(append(append(contracts("0.5.1", 3), contracts("0.4.24", 3)...), contracts("0.6.0", 3)...))
			for _, v := range tt.bind {
				p.bound[v]++
			}
			v, job, wait := p.acquire()
			assert.Equal(t, tt.want, v)
			assert.Equal(t, tt.wantJob, job != nil)
			assert.False(t, wait)
		})
	}
}

func TestPoolSet_ReservedJobIsNotShared(t *testing.T) {
	p := newPoolSet(contracts("a", 1))

	v, job, wait := p.acquire()
	require.Equal(t, "a", v)
	require.NotNil(t, job)
	assert.False(t, wait)

	v, job, wait = p.acquire()
	assert.Empty(t, v, "second slot must not bind with nothing to do")
	assert.Nil(t, job)
	assert.True(t, wait)
	assert.Equal(t, 1, p.bound["a"])
}

func TestPoolSet_RequeueKeepsPool(t *testing.T) {
	jobs := contracts("a", 1)
	p := newPoolSet(jobs)

	v, c, _ := p.acquire()
	require.NotNil(t, c)
	p.push(v, c)
	p.release(v)

	v, got, wait := p.acquire()
	assert.Equal(t, "a", v)
	assert.False(t, wait)
	assert.Same(t, jobs[0], got)

	p.release(v)
	v, _, wait = p.acquire()
	assert.Empty(t, v)
	assert.False(t, wait)
}

func TestSlotStateString(t *testing.T) {
	assert.Equal(t, "verifying", StateVerifying.String())
	assert.Equal(t, "SlotState(42)", SlotState(42).String())
}
