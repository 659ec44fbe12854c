package coalescer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/toolhive-docsync/internal/docstore"
)

func TestPendingSet_MergeKeepsFirstQueuedOrder(t *testing.T) {
	t.Parallel()

	p := newPendingSet()
	p.merge("u1", docstore.Patch{"guild": "g1"})
	p.merge("u2", docstore.Patch{"nick": "bob"})
	p.merge("u1", docstore.Patch{"guild": "g2", "nick": "al"})

	assert.Equal(t, 2, p.len())
	entries := p.drain()
	assert.Equal(t, []entry{
		{id: "u1", patch: docstore.Patch{"guild": "g2", "nick": "al"}},
		{id: "u2", patch: docstore.Patch{"nick": "bob"}},
	}, entries)
	assert.Equal(t, 0, p.len())
	assert.Empty(t, p.snapshot())
}

func TestPendingSet_MergeCopiesCallerPatch(t *testing.T) {
	t.Parallel()

	p := newPendingSet()
	patch := docstore.Patch{"guild": "g1"}
	p.merge("u1", patch)
	patch["guild"] = "changed"

	assert.Equal(t, "g1", p.snapshot()["u1"]["guild"])
}

func TestPendingSet_Restore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		live      []entry
		restored  []entry
		wantOrder []string
		want      map[string]docstore.Patch
	}{
		{
			name: "into empty set",
			restored: []entry{
				{id: "B", patch: docstore.Patch{"guild": "g1"}},
				{id: "C", patch: docstore.Patch{"guild": "g2"}},
			},
			wantOrder: []string{"B", "C"},
			want: map[string]docstore.Patch{
				"B": {"guild": "g1"},
				"C": {"guild": "g2"},
			},
		},
		{
			name: "live fields win over restored ones",
			live: []entry{
				{id: "B", patch: docstore.Patch{"guild": "live"}},
			},
			restored: []entry{
				{id: "B", patch: docstore.Patch{"guild": "stale", "nick": "kept"}},
			},
			wantOrder: []string{"B"},
			want: map[string]docstore.Patch{
				"B": {"guild": "live", "nick": "kept"},
			},
		},
		{
			name: "restored entities go ahead of newly queued ones",
			live: []entry{
				{id: "D", patch: docstore.Patch{"x": 1}},
				{id: "C", patch: docstore.Patch{"y": 2}},
			},
			restored: []entry{
				{id: "B", patch: docstore.Patch{"x": 3}},
				{id: "C", patch: docstore.Patch{"x": 4}},
			},
			wantOrder: []string{"B", "C", "D"},
			want: map[string]docstore.Patch{
				"B": {"x": 3},
				"C": {"x": 4, "y": 2},
				"D": {"x": 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newPendingSet()
			for _, e := range tt.live {
				p.merge(e.id, e.patch)
			}
			p.restore(tt.restored)

			assert.Equal(t, tt.wantOrder, p.order)
			assert.Equal(t, tt.want, p.snapshot())
		})
	}
}

func TestPendingSet_Remove(t *testing.T) {
	t.Parallel()

	p := newPendingSet()
	p.merge("u1", docstore.Patch{"a": 1})
	p.merge("u2", docstore.Patch{"b": 2})

	assert.True(t, p.remove("u1"))
	assert.False(t, p.remove("u1"))
	assert.Equal(t, []string{"u2"}, p.order)
	assert.Equal(t, 1, p.len())
}
