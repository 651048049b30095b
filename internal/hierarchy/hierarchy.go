// Package hierarchy provides read-only lookups over the organizational
// unit tree. The tree is a snapshot loaded once per request path; units are
// immutable within a transaction.
package hierarchy

import (
	"fmt"

	"sgc/internal/domain"
)

// Tree indexes units by id and by parent. It holds no mutable state after
// construction and is safe for concurrent use.
type Tree struct {
	byID     map[int64]domain.Unit
	children map[int64][]int64
}

// New builds a Tree from a unit snapshot. It fails when a parent reference
// points outside the snapshot or when the parent graph contains a cycle.
func New(units []domain.Unit) (*Tree, error) {
	t := &Tree{
		byID:     make(map[int64]domain.Unit, len(units)),
		children: make(map[int64][]int64),
	}
	for _, u := range units {
		t.byID[u.ID] = u
	}
	for _, u := range units {
		if u.ParentID == nil {
			continue
		}
		if _, ok := t.byID[*u.ParentID]; !ok {
			return nil, fmt.Errorf("unit %s references unknown parent %d", u.Sigla, *u.ParentID)
		}
		t.children[*u.ParentID] = append(t.children[*u.ParentID], u.ID)
	}
	for _, u := range units {
		if _, err := t.ancestors(u.ID); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Unit returns the unit with the given id.
func (t *Tree) Unit(id int64) (domain.Unit, bool) {
	u, ok := t.byID[id]
	return u, ok
}

// Parent returns the immediate superior of the given unit, if any.
func (t *Tree) Parent(id int64) (domain.Unit, bool) {
	u, ok := t.byID[id]
	if !ok || u.ParentID == nil {
		return domain.Unit{}, false
	}
	p, ok := t.byID[*u.ParentID]
	return p, ok
}

// Root walks up the parent chain and returns the top of the unit's lineage.
func (t *Tree) Root(id int64) (domain.Unit, bool) {
	u, ok := t.byID[id]
	if !ok {
		return domain.Unit{}, false
	}
	for u.ParentID != nil {
		parent, ok := t.byID[*u.ParentID]
		if !ok {
			return domain.Unit{}, false
		}
		u = parent
	}
	return u, true
}

// Ancestors returns the parent chain of the unit, nearest first, excluding
// the unit itself.
func (t *Tree) Ancestors(id int64) []domain.Unit {
	ids, err := t.ancestors(id)
	if err != nil {
		return nil
	}
	out := make([]domain.Unit, 0, len(ids))
	for _, aid := range ids {
		out = append(out, t.byID[aid])
	}
	return out
}

func (t *Tree) ancestors(id int64) ([]int64, error) {
	var chain []int64
	seen := map[int64]bool{id: true}
	u, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown unit %d", id)
	}
	for u.ParentID != nil {
		pid := *u.ParentID
		if seen[pid] {
			return nil, fmt.Errorf("unit hierarchy cycle at %d", pid)
		}
		seen[pid] = true
		chain = append(chain, pid)
		u = t.byID[pid]
	}
	return chain, nil
}

// IsSubordinate reports whether candidate sits strictly below superior in
// the tree.
func (t *Tree) IsSubordinate(candidate, superior int64) bool {
	for _, a := range t.Ancestors(candidate) {
		if a.ID == superior {
			return true
		}
	}
	return false
}

// IsImmediateSuperior reports whether candidate is the direct parent of
// unit.
func (t *Tree) IsImmediateSuperior(unit, candidate int64) bool {
	p, ok := t.Parent(unit)
	return ok && p.ID == candidate
}

// Children returns the direct subordinates of the unit.
func (t *Tree) Children(id int64) []domain.Unit {
	ids := t.children[id]
	out := make([]domain.Unit, 0, len(ids))
	for _, cid := range ids {
		out = append(out, t.byID[cid])
	}
	return out
}

// Descendants returns every unit strictly below the given unit.
func (t *Tree) Descendants(id int64) []domain.Unit {
	var out []domain.Unit
	var walk func(int64)
	walk = func(cur int64) {
		for _, cid := range t.children[cur] {
			out = append(out, t.byID[cid])
			walk(cid)
		}
	}
	walk(id)
	return out
}

// Roots returns the units with no parent, the entry points of the tree.
func (t *Tree) Roots() []domain.Unit {
	var out []domain.Unit
	for _, u := range t.byID {
		if u.ParentID == nil {
			out = append(out, u)
		}
	}
	return out
}
