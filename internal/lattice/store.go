package lattice

import (
	"fmt"
	"sync"

	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

// Handle is an opaque reference to a lattice held by a Store. The zero
// Handle means "no tree".
type Handle uint64

// NoTree is the handle returned when a build fails
const NoTree Handle = 0

func makeHandle(index, generation uint32) Handle {
	return Handle(uint64(index)<<32 | uint64(generation))
}

func (h Handle) index() uint32      { return uint32(h >> 32) }
func (h Handle) generation() uint32 { return uint32(h) }

// String formats the handle for logs and URLs
func (h Handle) String() string { return fmt.Sprintf("%d", uint64(h)) }

type slot struct {
	lattice    *Lattice
	generation uint32
	refs       int
}

// Store is an arena of lattices addressed by generation-checked handles.
// A slot is recycled once its reference count reaches zero, which makes every
// handle to its previous occupant stale.
type Store struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
	live  int
	log   *logger.Logger
}

// NewStore creates an empty lattice store
func NewStore() *Store {
	return &Store{
		// slot 0 is never used so that no valid handle equals NoTree
		slots: make([]slot, 1),
		log:   logger.GetLogger("lattice.store"),
	}
}

// Put stores l with a reference count of one and returns its handle
func (s *Store) Put(l *Lattice) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot{generation: 1})
	}
	sl := &s.slots[idx]
	sl.lattice = l
	sl.refs = 1
	s.live++

	h := makeHandle(idx, sl.generation)
	s.log.Debugw("Lattice stored", "handle", h, "live", s.live)
	return h
}

func (s *Store) lookup(h Handle) (*slot, error) {
	idx := h.index()
	if h == NoTree || int(idx) >= len(s.slots) {
		return nil, errors.InvalidInputf(errors.CodeInvalidLattice, "unknown lattice handle %s", h)
	}
	sl := &s.slots[idx]
	if sl.lattice == nil || sl.generation != h.generation() {
		return nil, errors.InvalidInputf(errors.CodeInvalidLattice, "lattice handle %s has been released", h)
	}
	return sl, nil
}

// Get returns the lattice behind h
func (s *Store) Get(h Handle) (*Lattice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, err := s.lookup(h)
	if err != nil {
		return nil, err
	}
	return sl.lattice, nil
}

// Retain adds a reference to h
func (s *Store) Retain(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.lookup(h)
	if err != nil {
		return err
	}
	sl.refs++
	return nil
}

// Release drops a reference to h, freeing the slot when none remain
func (s *Store) Release(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.lookup(h)
	if err != nil {
		return err
	}
	sl.refs--
	if sl.refs > 0 {
		return nil
	}
	sl.lattice = nil
	sl.generation++
	if sl.generation == 0 {
		sl.generation = 1
	}
	s.free = append(s.free, h.index())
	s.live--
	s.log.Debugw("Lattice released", "handle", h, "live", s.live)
	return nil
}

// Live returns the number of lattices currently stored
func (s *Store) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}
