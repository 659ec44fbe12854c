package coalescer

import (
	"maps"
	"slices"

	"github.com/stacklok/toolhive-docsync/internal/docstore"
)

// entry is one entity's coalesced patch inside a flush snapshot.
type entry struct {
	id    string
	patch docstore.Patch
}

// pendingSet accumulates field patches per entity in first-queued order.
type pendingSet struct {
	order   []string
	patches map[string]docstore.Patch
}

func newPendingSet() *pendingSet {
	return &pendingSet{patches: make(map[string]docstore.Patch)}
}

func (p *pendingSet) len() int {
	return len(p.order)
}

// merge applies patch on top of the pending patch for id; later fields win.
func (p *pendingSet) merge(id string, patch docstore.Patch) {
	existing, ok := p.patches[id]
	if !ok {
		p.order = append(p.order, id)
		p.patches[id] = patch.Clone()
		return
	}
	existing.Merge(patch)
}

// restore puts entries from an unfinished pass back in front of the set.
// Fields queued since the pass started are newer and take precedence over
// the restored ones.
func (p *pendingSet) restore(entries []entry) {
	restored := make([]string, 0, len(entries)+len(p.order))
	for _, e := range entries {
		merged := e.patch.Clone()
		if live, ok := p.patches[e.id]; ok {
			merged.Merge(live)
		}
		p.patches[e.id] = merged
		restored = append(restored, e.id)
	}
	for _, id := range p.order {
		if !slices.Contains(restored, id) {
			restored = append(restored, id)
		}
	}
	p.order = restored
}

func (p *pendingSet) remove(id string) bool {
	if _, ok := p.patches[id]; !ok {
		return false
	}
	delete(p.patches, id)
	p.order = slices.DeleteFunc(p.order, func(s string) bool { return s == id })
	return true
}

// drain returns the queued entries in order and empties the set.
func (p *pendingSet) drain() []entry {
	entries := make([]entry, 0, len(p.order))
	for _, id := range p.order {
		entries = append(entries, entry{id: id, patch: p.patches[id]})
	}
	p.order = nil
	p.patches = make(map[string]docstore.Patch)
	return entries
}

// snapshot returns a deep-enough copy of the set for callers outside the lock.
func (p *pendingSet) snapshot() map[string]docstore.Patch {
	out := make(map[string]docstore.Patch, len(p.patches))
	for id, patch := range p.patches {
		out[id] = maps.Clone(patch)
	}
	return out
}
