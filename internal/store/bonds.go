package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

// InMemoryBondStore keeps bond descriptions by name. Specs are stored by
// value and every Get builds a fresh bond, so callers never share one.
type InMemoryBondStore struct {
	specs map[string]bond.Spec
	mu    sync.RWMutex
	log   *logger.Logger
}

// NewInMemoryBondStore creates a new in-memory bond store
func NewInMemoryBondStore() *InMemoryBondStore {
	return &InMemoryBondStore{
		specs: make(map[string]bond.Spec),
		log:   logger.GetLogger("store.bonds"),
	}
}

func checkName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.InvalidInput(errors.CodeInvalidName, "name cannot be empty")
	}
	return name, nil
}

// SaveBond validates spec and stores it under name, replacing any previous
// entry. The stored spec carries name.
func (s *InMemoryBondStore) SaveBond(name string, spec bond.Spec) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	spec.Name = name
	if _, err := spec.Build(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[name] = cloneSpec(spec)
	s.log.Debugw("Bond saved", "name", name)
	return nil
}

// GetSpec returns a copy of the description stored under name
func (s *InMemoryBondStore) GetSpec(name string) (bond.Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, exists := s.specs[name]
	if !exists {
		return bond.Spec{}, errors.NotFound("bond not found: " + name)
	}
	return cloneSpec(spec), nil
}

// GetBond builds the bond stored under name
func (s *InMemoryBondStore) GetBond(name string) (*bond.Bond, error) {
	spec, err := s.GetSpec(name)
	if err != nil {
		return nil, err
	}
	return spec.Build()
}

// ListBonds returns the stored names in order
func (s *InMemoryBondStore) ListBonds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.specs))
	for name := range s.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeleteBond removes a bond by name
func (s *InMemoryBondStore) DeleteBond(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.specs[name]; !exists {
		return errors.NotFound("bond not found: " + name)
	}
	delete(s.specs, name)
	return nil
}

// cloneSpec copies the slices and pointers of spec so that the stored value
// is not aliased by the caller
func cloneSpec(spec bond.Spec) bond.Spec {
	out := spec
	out.Steps = append([]bond.StepSpec(nil), spec.Steps...)
	if spec.Frequency != nil {
		f := *spec.Frequency
		out.Frequency = &f
	}
	out.Call = cloneOption(spec.Call)
	out.Put = cloneOption(spec.Put)
	if spec.Sink != nil {
		sink := *spec.Sink
		sink.Entries = append([]bond.SinkEntrySpec(nil), spec.Sink.Entries...)
		out.Sink = &sink
	}
	if spec.Tax != nil {
		tax := *spec.Tax
		out.Tax = &tax
	}
	return out
}

func cloneOption(o *bond.OptionSpec) *bond.OptionSpec {
	if o == nil {
		return nil
	}
	out := *o
	out.Strikes = append([]bond.StrikeSpec(nil), o.Strikes...)
	if o.Notice != nil {
		n := *o.Notice
		out.Notice = &n
	}
	return &out
}
