// SPDX-License-Identifier: MIT
package daq

// CtrTracker follows StreamData.Ctr for one consumer and one stream
// generation. A jump means blocks were lost, either at the backend or
// because the consumer's queue was full.
type CtrTracker struct {
	next   uint64
	primed bool
}

// Observe records ctr and returns the number of blocks missing before it.
// The first block after a Reset sets the baseline, since a queue attached
// to a running stream starts wherever the stream is.
func (t *CtrTracker) Observe(ctr uint64) uint64 {
	var missed uint64
	if t.primed && ctr > t.next {
		missed = ctr - t.next
	}
	t.next = ctr + 1
	t.primed = true
	return missed
}

// Reset forgets the baseline. Call it on StreamStarted.
func (t *CtrTracker) Reset() { *t = CtrTracker{} }
