package ioselector

// handleEntry holds the pending jobs of one handle, in submission order.
type handleEntry struct {
	jobs []*job
	// registered is the interest currently registered with the backend.
	registered Op
}

// interest returns the OR of the pending jobs' operations.
func (e *handleEntry) interest() (op Op) {
	for _, j := range e.jobs {
		op |= j.op
	}
	return
}

// registry maps handles to their pending jobs.
//
// Only the poller goroutine may access a registry.
type registry struct {
	entries map[Handle]*handleEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[Handle]*handleEntry)}
}

// mergeOrCreate appends j to the handle's job list, returning the aggregated
// interest and whether the entry was created by this call.
func (r *registry) mergeOrCreate(h Handle, j *job) (interest Op, isNew bool) {
	e, ok := r.entries[h]
	if !ok {
		e = &handleEntry{}
		r.entries[h] = e
		isNew = true
	}
	e.jobs = append(e.jobs, j)
	return e.interest(), isNew
}

// takeFirstMatching removes and returns the earliest job whose operation
// intersects op, or nil.
func (r *registry) takeFirstMatching(h Handle, op Op) *job {
	e, ok := r.entries[h]
	if !ok {
		return nil
	}
	for i, j := range e.jobs {
		if j.op&op == 0 {
			continue
		}
		copy(e.jobs[i:], e.jobs[i+1:])
		e.jobs[len(e.jobs)-1] = nil
		e.jobs = e.jobs[:len(e.jobs)-1]
		return j
	}
	return nil
}

// removeAll deletes the handle's entry, returning its jobs in order.
func (r *registry) removeAll(h Handle) []*job {
	e, ok := r.entries[h]
	if !ok {
		return nil
	}
	delete(r.entries, h)
	return e.jobs
}

// lookup returns the entry for h, if any.
func (r *registry) lookup(h Handle) (*handleEntry, bool) {
	e, ok := r.entries[h]
	return e, ok
}

// handles returns every handle with an entry, in unspecified order.
func (r *registry) handles() []Handle {
	hs := make([]Handle, 0, len(r.entries))
	for h := range r.entries {
		hs = append(hs, h)
	}
	return hs
}
