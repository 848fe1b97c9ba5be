package browser

import (
	"hash/fnv"
	"slices"
	"sync"

	"github.com/chromedp/cdproto/target"
)

// idSpace bounds tab ids to six digits.
const idSpace = 1_000_000

// Registry binds small integer tab ids to CDP target ids. The id is derived
// from the target id, so a later process listing the same tabs hands out the
// same ids and "tabdigest tabs" output can be fed to "tabdigest process".
type Registry struct {
	mu       sync.RWMutex
	byTarget map[target.ID]int
	byID     map[int]target.ID
}

func NewRegistry() *Registry {
	return &Registry{
		byTarget: make(map[target.ID]int),
		byID:     make(map[int]target.ID),
	}
}

// TabID is the preferred id of a target, in [1, idSpace].
func TabID(targetID target.ID) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(targetID))
	return int(h.Sum32()%idSpace) + 1
}

// Sync makes live the set of known targets. Closed targets are forgotten and
// new ones are bound in sorted order; a collision moves to the next free id.
func (r *Registry) Sync(live []target.ID) {
	keep := make(map[target.ID]struct{}, len(live))
	for _, t := range live {
		keep[t] = struct{}{}
	}

	fresh := make([]target.ID, 0, len(live))
	for t := range keep {
		fresh = append(fresh, t)
	}
	slices.Sort(fresh)

	r.mu.Lock()
	defer r.mu.Unlock()

	for t, id := range r.byTarget {
		if _, ok := keep[t]; !ok {
			delete(r.byTarget, t)
			delete(r.byID, id)
		}
	}
	for _, t := range fresh {
		if _, ok := r.byTarget[t]; ok {
			continue
		}
		id := TabID(t)
		for {
			if _, taken := r.byID[id]; !taken {
				break
			}
			id = id%idSpace + 1
		}
		r.byTarget[t] = id
		r.byID[id] = t
	}
}

func (r *Registry) ID(targetID target.ID) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byTarget[targetID]
	return id, ok
}

func (r *Registry) Target(id int) (target.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
