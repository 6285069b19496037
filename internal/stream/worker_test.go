package stream

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/bond-oas-engine/config"
	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/engine"
	"github.com/rzzdr/bond-oas-engine/internal/license"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/circuit"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

var errBrokerDown = stderrors.New("broker down")

type fakeWriter struct {
	mu       sync.Mutex
	written  []kafka.Message
	failures int // attempts to fail before succeeding, negative for always
	attempts int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.failures != 0 {
		if w.failures > 0 {
			w.failures--
		}
		return errBrokerDown
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) results(t *testing.T) map[string]ValuationResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]ValuationResult, len(w.written))
	for _, m := range w.written {
		var res ValuationResult
		require.NoError(t, json.Unmarshal(m.Value, &res))
		require.Equal(t, string(m.Key), res.CorrelationID)
		out[res.CorrelationID] = res
	}
	return out
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.written)
}

type fakeHub struct {
	mu    sync.Mutex
	bonds []string
}

func (h *fakeHub) Publish(bond string, _ any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bonds = append(h.bonds, bond)
	return nil
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	secret := []byte("stream-test")
	g := license.NewGate(secret)
	key, err := license.Issue(secret, "desk", time.Now().Add(time.Hour), license.FeatureAll)
	require.NoError(t, err)
	require.NoError(t, g.Authorize("desk", key))

	e, err := engine.New(config.EngineConfig{
		DurationMode:       "par",
		DurationBPPlain:    10,
		DurationBPOptions:  40,
		ScenarioEfficiency: 100,
		StepsPerYear:       12,
		HorizonYears:       30,
		SolverTolerance:    1e-8,
		SolverMaxIter:      200,
		NoticeDays:         30,
		YieldMethod:        "simple_last_period",
	}, g, nil, nil)
	require.NoError(t, err)
	return e
}

func request(id, name string, pvdate int) []byte {
	req := ValuationRequest{
		CorrelationID: id,
		PVDate:        pvdate,
		Curve: engine.CurveSpec{
			Years:  []float64{1, 5, 10, 30},
			Values: []float64{5, 5, 5, 5},
		},
		Bond:  bond.Spec{Name: name, Issue: 20130701, Maturity: 20230701, Coupon: 5},
		Quote: engine.QuoteSpec{Type: "price", Value: 100},
	}
	data, _ := json.Marshal(req)
	return data
}

func TestWorkerWritesOneResultPerRequest(t *testing.T) {
	e := newTestEngine(t)
	reader := &fakeReader{msgs: make(chan kafka.Message, 8)}
	writer := &fakeWriter{}
	hub := &fakeHub{}
	w := NewWorker(reader, writer, e, hub, nil, 3)

	reader.msgs <- kafka.Message{Value: request("a", "ACME 5 23", 20130701)}
	reader.msgs <- kafka.Message{Value: request("b", "ACME 5 23", 20140102)}
	reader.msgs <- kafka.Message{Key: []byte("c"), Value: []byte("{not json")}
	reader.msgs <- kafka.Message{Value: request("d", "BAD", 20131301)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return reader.commits() == 4 }, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, w.cache.Len())
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 4, writer.count())
	results := writer.results(t)
	require.Len(t, results, 4)

	for _, id := range []string{"a", "b"} {
		res := results[id]
		require.Nil(t, res.Error, id)
		require.NotNil(t, res.Report, id)
		assert.Equal(t, "ACME 5 23", res.Bond)
	}
	assert.InDelta(t, 0, results["a"].Report.OAS, 1e-3)
	assert.Equal(t, 20140102, results["b"].Report.PVDate)
	assert.Equal(t, string(errors.CodeInvalidRequest), results["c"].Error.Code)
	assert.Equal(t, string(errors.CodeInvalidPVDate), results["d"].Error.Code)
	assert.Nil(t, results["d"].Report)

	hub.mu.Lock()
	assert.Equal(t, []string{"ACME 5 23", "ACME 5 23"}, hub.bonds)
	hub.mu.Unlock()

	// cached lattice released when the worker stops
	assert.Equal(t, 0, e.Lattices().Live())
}

func TestWorkerRetriesFailedWrites(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafka.Message, 1)}
	writer := &fakeWriter{failures: 2}
	w := NewWorker(reader, writer, newTestEngine(t), nil, nil, 1)
	w.retryDelay = time.Millisecond

	reader.msgs <- kafka.Message{Value: request("a", "ACME 5 23", 20130701)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return reader.commits() == 1 }, 10*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, writer.count())
	assert.Equal(t, circuit.StateClosed, w.breaker.State())
}

func TestWorkerStopsWhenResultsCannotBeWritten(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafka.Message, 1)}
	writer := &fakeWriter{failures: -1}
	w := NewWorker(reader, writer, newTestEngine(t), nil, nil, 1)
	w.retryDelay = time.Millisecond

	reader.msgs <- kafka.Message{Value: request("a", "ACME 5 23", 20130701)}

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Equal(t, circuit.DefaultConfig().MaxFailures, writer.attempts)
	assert.Equal(t, 0, reader.commits())
}

func TestHandleFallsBackToGeneratedID(t *testing.T) {
	w := NewWorker(&fakeReader{}, &fakeWriter{}, newTestEngine(t), nil, nil, 1)

	res := w.Handle(context.Background(), nil, request("", "X", 20130701))
	require.Nil(t, res.Error)
	assert.Len(t, res.CorrelationID, 36)

	res = w.Handle(context.Background(), []byte("key-1"), request("", "X", 20130701))
	assert.Equal(t, "key-1", res.CorrelationID)

	missing := ValuationRequest{Quote: engine.QuoteSpec{Type: "price", Value: 100}}
	data, err := json.Marshal(missing)
	require.NoError(t, err)
	res = w.Handle(context.Background(), nil, data)
	require.NotNil(t, res.Error)
	assert.Equal(t, string(errors.CodeInvalidRequest), res.Error.Code)
}

func TestCurveKeyStable(t *testing.T) {
	a := engine.CurveSpec{Years: []float64{1, 2}, Values: []float64{4, 5}, Volatility: 10}
	b := engine.CurveSpec{Years: []float64{1, 2}, Values: []float64{4, 5}, Volatility: 10}
	ka, err := curveKey(a, nil)
	require.NoError(t, err)
	kb, err := curveKey(b, nil)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)

	kc, err := curveKey(b, &engine.SpreadSpec{Years: []float64{1}, BPs: []float64{50}})
	require.NoError(t, err)
	assert.NotEqual(t, ka, kc)
}
