package scheduler

import (
	"sort"
	"sync"

	"github.com/pendergraft/contraverify/internal/records"
)

// poolSet holds the pending contracts per compiler version and the number of
// slots bound to each live version. A version stays live while it has pending
// jobs or bound slots. All access goes through its methods.
type poolSet struct {
	mu    sync.Mutex
	pools map[string][]*records.Contract
	bound map[string]int
	peak  int
}

func newPoolSet(contracts []*records.Contract) *poolSet {
	p := &poolSet{
		pools: make(map[string][]*records.Contract),
		bound: make(map[string]int),
	}
	for _, c := range contracts {
		p.pools[c.Info.Compiler] = append(p.pools[c.Info.Compiler], c)
		p.bound[c.Info.Compiler] = 0
	}
	return p
}

// acquire picks the live version most slots are bound to, ties going to the
// lowest version string, binds the caller to it and reserves its next job.
// When the picked version has no pending job it returns wait=true: the slot
// re-evaluates later instead of loading another compiler. An empty version
// with wait=false means every version is drained and released.
func (p *poolSet) acquire() (version string, job *records.Contract, wait bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.bound) == 0 {
		return "", nil, false
	}

	versions := make([]string, 0, len(p.bound))
	for v := range p.bound {
		versions = append(versions, v)
	}
	sort.Strings(versions)

	best := versions[0]
	for _, v := range versions[1:] {
		if p.bound[v] > p.bound[best] {
			best = v
		}
	}

	job, ok := p.popLocked(best)
	if !ok {
		return "", nil, true
	}
	p.bound[best]++
	p.peak = max(p.peak, p.boundVersions())
	return best, job, false
}

// release unbinds a slot from version. The version is dropped once no slot
// is bound to it and its pool is empty.
func (p *poolSet) release(version string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bound[version]--
	if p.bound[version] > 0 {
		return
	}
	if len(p.pools[version]) == 0 {
		delete(p.bound, version)
		delete(p.pools, version)
		return
	}
	p.bound[version] = 0
}

// pop takes the most recently added job of version.
func (p *poolSet) pop(version string) (*records.Contract, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.popLocked(version)
}

func (p *poolSet) popLocked(version string) (*records.Contract, bool) {
	jobs := p.pools[version]
	if len(jobs) == 0 {
		return nil, false
	}
	c := jobs[len(jobs)-1]
	p.pools[version] = jobs[:len(jobs)-1]
	return c, true
}

// push returns a job to its pool.
func (p *poolSet) push(version string, c *records.Contract) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pools[version] = append(p.pools[version], c)
}

// peakVersions is the largest number of distinct versions bound at once.
func (p *poolSet) peakVersions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// boundVersions counts versions with at least one bound slot.
func (p *poolSet) boundVersions() int {
	n := 0
	for _, b := range p.bound {
		if b > 0 {
			n++
		}
	}
	return n
}
