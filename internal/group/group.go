// Package group is the registry of per-group (memcg) reclaim policy
// spec.md refers to throughout as "the supplied iterator" and
// "group.ratio" without naming a concrete type. The original vendor
// source (original_source/drivers/block/zram/expandmem) keeps this
// state on struct mem_cgroup itself (oem_mem_cgroup.zram_stored_size,
// eswap_stored_size, …); this repo gives it a standalone registry
// keyed by the dense group id used throughout internal/area and
// internal/extmgr, following the teacher's accnt.Accnt_t pattern of a
// small struct of atomic counters guarded by a single mutex for
// structural changes only.
package group

import "sync"

// Policy holds one group's reclaim knobs, per spec §3's memcg contract.
type Policy struct {
	ID GroupID

	// Ratio is the fraction of this group's zram-resident pages a
	// reclaim pass should target, in [0, 1].
	Ratio float64
	// RefaultThreshold is the group's refault-threshold knob. It is
	// stored with the policy; no code in this module reads it.
	RefaultThreshold int
	// Priority is a coarse reclaim ordering score; higher runs first.
	Priority int
}

// GroupID is the dense small-integer id of a resource group.
type GroupID uint32

// Registry tracks live groups and their policy, and iterates them in
// priority order for ReclaimLoop.
type Registry struct {
	mu     sync.RWMutex
	groups map[GroupID]*Policy
	order  []GroupID
}

// NewRegistry returns an empty group registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[GroupID]*Policy)}
}

// Register adds or replaces a group's policy.
func (r *Registry) Register(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.groups[p.ID]; !exists {
		r.order = append(r.order, p.ID)
	}
	cp := p
	r.groups[p.ID] = &cp
}

// Unregister removes a group from the registry, e.g. on memcg teardown
// (spec §4.3's GroupTeardown precondition).
func (r *Registry) Unregister(id GroupID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, id)
	for i, g := range r.order {
		if g == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of a group's policy.
func (r *Registry) Get(id GroupID) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.groups[id]
	if !ok {
		return Policy{}, false
	}
	return *p, true
}

// SetRatio updates a group's reclaim ratio in place. No code in this
// module calls it on its own; ratio changes come only from callers.
func (r *Registry) SetRatio(id GroupID, ratio float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.groups[id]; ok {
		p.Ratio = ratio
	}
}

// Iterate calls fn for every registered group, highest priority first.
// It copies the groups' policies under a read lock and releases the lock
// before calling fn, so fn sees that snapshot and may call back into the
// Registry. Iteration stops early if fn returns false.
func (r *Registry) Iterate(fn func(Policy) bool) {
	r.mu.RLock()
	ids := make([]GroupID, len(r.order))
	copy(ids, r.order)
	policies := make(map[GroupID]Policy, len(ids))
	for _, id := range ids {
		policies[id] = *r.groups[id]
	}
	r.mu.RUnlock()

	sortByPriorityDesc(ids, policies)
	for _, id := range ids {
		if !fn(policies[id]) {
			return
		}
	}
}

func sortByPriorityDesc(ids []GroupID, policies map[GroupID]Policy) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && policies[ids[j-1]].Priority < policies[ids[j]].Priority; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
