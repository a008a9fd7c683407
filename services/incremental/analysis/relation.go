// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"encoding/json"
	"slices"
)

// Relation is a directed many-to-many relation with a maintained reverse
// index, so that both "what does X depend on" and "who depends on X" are
// answered without a scan.
//
// Thread Safety:
//
//	Relation is NOT safe for concurrent modification. It is owned by a
//	single Analysis, which in turn is owned by one build session.
type Relation struct {
	fwd map[string]map[string]struct{}
	rev map[string]map[string]struct{}
}

// NewRelation creates an empty relation.
func NewRelation() Relation {
	return Relation{
		fwd: make(map[string]map[string]struct{}),
		rev: make(map[string]map[string]struct{}),
	}
}

func (r *Relation) ensure() {
	if r.fwd == nil {
		r.fwd = make(map[string]map[string]struct{})
	}
	if r.rev == nil {
		r.rev = make(map[string]map[string]struct{})
	}
}

// Add records the pair from -> to. Adding an existing pair is a no-op.
func (r *Relation) Add(from, to string) {
	r.ensure()
	addPair(r.fwd, from, to)
	addPair(r.rev, to, from)
}

// RemoveFrom drops every pair whose left side is from.
func (r *Relation) RemoveFrom(from string) {
	r.ensure()
	for to := range r.fwd[from] {
		removePair(r.rev, to, from)
	}
	delete(r.fwd, from)
}

// RemoveTo drops every pair whose right side is to.
func (r *Relation) RemoveTo(to string) {
	r.ensure()
	for from := range r.rev[to] {
		removePair(r.fwd, from, to)
	}
	delete(r.rev, to)
}

// Forward returns the sorted right sides related to from.
func (r Relation) Forward(from string) []string { return sortedKeys(r.fwd[from]) }

// Reverse returns the sorted left sides related to to.
func (r Relation) Reverse(to string) []string { return sortedKeys(r.rev[to]) }

// Contains reports whether the pair from -> to is present.
func (r Relation) Contains(from, to string) bool {
	_, ok := r.fwd[from][to]
	return ok
}

// Len returns the number of pairs.
func (r Relation) Len() int {
	n := 0
	for _, tos := range r.fwd {
		n += len(tos)
	}
	return n
}

// Domain returns the sorted left sides that have at least one pair.
func (r Relation) Domain() []string {
	out := make([]string, 0, len(r.fwd))
	for k := range r.fwd {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Clone returns a deep copy.
func (r Relation) Clone() Relation {
	c := NewRelation()
	for from, tos := range r.fwd {
		for to := range tos {
			c.Add(from, to)
		}
	}
	return c
}

// Map rewrites both sides of every pair through fn. Pairs for which fn
// fails abort the mapping.
func (r Relation) Map(fn func(string) (string, error)) (Relation, error) {
	c := NewRelation()
	for from, tos := range r.fwd {
		mf, err := fn(from)
		if err != nil {
			return Relation{}, err
		}
		for to := range tos {
			mt, err := fn(to)
			if err != nil {
				return Relation{}, err
			}
			c.Add(mf, mt)
		}
	}
	return c, nil
}

// Equal compares relations by contents.
func (r Relation) Equal(other Relation) bool {
	if r.Len() != other.Len() {
		return false
	}
	for from, tos := range r.fwd {
		for to := range tos {
			if !other.Contains(from, to) {
				return false
			}
		}
	}
	return true
}

// MarshalJSON encodes the forward index as an object of sorted arrays.
func (r Relation) MarshalJSON() ([]byte, error) {
	out := make(map[string][]string, len(r.fwd))
	for from, tos := range r.fwd {
		out[from] = sortedKeys(tos)
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds both indexes from the forward form.
func (r *Relation) UnmarshalJSON(data []byte) error {
	var in map[string][]string
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = NewRelation()
	for from, tos := range in {
		for _, to := range tos {
			r.Add(from, to)
		}
	}
	return nil
}

func addPair(m map[string]map[string]struct{}, k, v string) {
	set, ok := m[k]
	if !ok {
		set = make(map[string]struct{})
		m[k] = set
	}
	set[v] = struct{}{}
}

func removePair(m map[string]map[string]struct{}, k, v string) {
	set, ok := m[k]
	if !ok {
		return
	}
	delete(set, v)
	if len(set) == 0 {
		delete(m, k)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
