package core

import "pkt.systems/contractpad/schema"

// tab is one open document and its live model.
type tab struct {
	ref   schema.TabRef
	model schema.ModelID
}

// Snapshot returns a transport-friendly view of the tab.
func (t *tab) Snapshot(active bool) schema.TabSnapshot {
	return schema.TabSnapshot{
		Namespace: t.ref.Namespace,
		Name:      t.ref.Name,
		ModelID:   t.model,
		Active:    active,
	}
}

func removeRef(order []schema.TabRef, ref schema.TabRef) []schema.TabRef {
	for i, existing := range order {
		if existing == ref {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

func replaceRef(order []schema.TabRef, from, to schema.TabRef) []schema.TabRef {
	out := make([]schema.TabRef, len(order))
	for i, existing := range order {
		if existing == from {
			existing = to
		}
		out[i] = existing
	}
	return out
}
