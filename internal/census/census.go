// Package census counts who is watching which camera.
package census

import (
	"sort"
	"sync"
)

type entry struct {
	cameraID string
	viewerID string
}

// Census maps camera -> viewer -> open consumer count, plus a consumer
// index so a close that only names the consumer can be attributed.
// A viewer is dropped when its count reaches zero and a camera when it has
// no viewers left.
type Census struct {
	mu      sync.Mutex
	viewers map[string]map[string]int
	index   map[string]entry
}

func New() *Census {
	return &Census{
		viewers: make(map[string]map[string]int),
		index:   make(map[string]entry),
	}
}

// AddViewer counts one more consumer for (cameraID, viewerID). Empty
// identities contribute nothing, and a consumer is only ever counted once.
func (c *Census) AddViewer(cameraID, viewerID, consumerID string) {
	if cameraID == "" || viewerID == "" || consumerID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.index[consumerID]; dup {
		return
	}
	m, ok := c.viewers[cameraID]
	if !ok {
		m = make(map[string]int)
		c.viewers[cameraID] = m
	}
	m[viewerID]++
	c.index[consumerID] = entry{cameraID: cameraID, viewerID: viewerID}
}

// RemoveByConsumer undoes AddViewer for one consumer. Unknown or already
// removed consumers are ignored; the return value reports whether a count
// changed.
func (c *Census) RemoveByConsumer(consumerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.index[consumerID]
	if !ok {
		return false
	}
	delete(c.index, consumerID)

	m, ok := c.viewers[rec.cameraID]
	if !ok {
		return false
	}
	if n := m[rec.viewerID] - 1; n > 0 {
		m[rec.viewerID] = n
	} else {
		delete(m, rec.viewerID)
	}
	if len(m) == 0 {
		delete(c.viewers, rec.cameraID)
	}
	return true
}

// RemoveCamera forgets a camera together with its index rows.
func (c *Census) RemoveCamera(cameraID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.viewers, cameraID)
	for id, rec := range c.index {
		if rec.cameraID == cameraID {
			delete(c.index, id)
		}
	}
}

// ViewersOf returns the sorted distinct viewers of a camera.
func (c *Census) ViewersOf(cameraID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.viewers[cameraID]
	out := make([]string, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// CountOf is the number of distinct viewers, not consumers.
func (c *Census) CountOf(cameraID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.viewers[cameraID])
}

// Snapshot returns distinct viewer counts for every watched camera.
func (c *Census) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.viewers))
	for cam, m := range c.viewers {
		out[cam] = len(m)
	}
	return out
}
