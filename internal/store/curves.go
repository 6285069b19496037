package store

import (
	"sort"
	"sync"

	"github.com/rzzdr/bond-oas-engine/internal/engine"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

// InMemoryCurveStore keeps named curve specs
type InMemoryCurveStore struct {
	curves map[string]engine.CurveSpec
	mu     sync.RWMutex
	log    *logger.Logger
}

// NewInMemoryCurveStore creates a new in-memory curve store
func NewInMemoryCurveStore() *InMemoryCurveStore {
	return &InMemoryCurveStore{
		curves: make(map[string]engine.CurveSpec),
		log:    logger.GetLogger("store.curves"),
	}
}

// SaveCurve validates spec and stores it under name
func (s *InMemoryCurveStore) SaveCurve(name string, spec engine.CurveSpec) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	if _, err := spec.Build(); err != nil {
		return err
	}
	spec.Years = append([]float64(nil), spec.Years...)
	spec.Values = append([]float64(nil), spec.Values...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.curves[name] = spec
	s.log.Debugw("Curve saved", "name", name, "points", len(spec.Years))
	return nil
}

// GetCurve retrieves a curve spec by name
func (s *InMemoryCurveStore) GetCurve(name string) (engine.CurveSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, exists := s.curves[name]
	if !exists {
		return engine.CurveSpec{}, errors.NotFound("curve not found: " + name)
	}
	spec.Years = append([]float64(nil), spec.Years...)
	spec.Values = append([]float64(nil), spec.Values...)
	return spec, nil
}

// ListCurves returns the stored names in order
func (s *InMemoryCurveStore) ListCurves() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.curves))
	for name := range s.curves {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeleteCurve removes a curve by name
func (s *InMemoryCurveStore) DeleteCurve(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.curves[name]; !exists {
		return errors.NotFound("curve not found: " + name)
	}
	delete(s.curves, name)
	return nil
}
