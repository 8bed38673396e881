package scheduler

import (
	"time"

	"github.com/pendergraft/contraverify/internal/chains/evm/compiler"
	"github.com/pendergraft/contraverify/internal/records"
)

// Progress describes one passing contract.
type Progress struct {
	Done     int
	Total    int
	Time     time.Time
	Contract *records.Contract
	Warnings []compiler.Diagnostic
}

// Percent is the share of contracts passed so far.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Done) * 100 / float64(p.Total)
}

// Reporter receives per-contract outcomes. Calls may come from several
// goroutines at once.
type Reporter interface {
	Passed(p Progress)
	Failed(c *records.Contract, err error)
}

// NopReporter discards all outcomes.
type NopReporter struct{}

func (NopReporter) Passed(Progress)                 {}
func (NopReporter) Failed(*records.Contract, error) {}

// Reporters fans outcomes out to several reporters.
type Reporters []Reporter

func (rs Reporters) Passed(p Progress) {
	for _, r := range rs {
		r.Passed(p)
	}
}

func (rs Reporters) Failed(c *records.Contract, err error) {
	for _, r := range rs {
		r.Failed(c, err)
	}
}
