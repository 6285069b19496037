// Package stream serves valuation requests from a Kafka topic and writes one
// result per request to a result topic.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/bond-oas-engine/config"
	"github.com/rzzdr/bond-oas-engine/internal/engine"
	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/pkg/metrics"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/circuit"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

// Reader is the consuming side of a topic
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is the producing side of a topic
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher receives every successful result, keyed by bond name
type Publisher interface {
	Publish(bond string, payload any) error
}

// Worker turns valuation requests into results
type Worker struct {
	reader   Reader
	writer   Writer
	engine   *engine.Engine
	hub      Publisher
	rec      *metrics.Recorder
	cache    *latticeCache
	workers  int
	validate *validator.Validate
	log      *logger.Logger

	// result writes retry every retryDelay until the breaker opens
	breaker    *circuit.Breaker
	retryDelay time.Duration
}

// NewKafkaWorker connects a worker to the brokers in cfg. hub and rec may be nil.
func NewKafkaWorker(cfg config.KafkaConfig, eng *engine.Engine, hub Publisher, rec *metrics.Recorder) *Worker {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.RequestTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.ResultTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return NewWorker(reader, writer, eng, hub, rec, cfg.Workers)
}

// NewWorker creates a worker over an existing reader and writer
func NewWorker(reader Reader, writer Writer, eng *engine.Engine, hub Publisher, rec *metrics.Recorder, workers int) *Worker {
	if workers <= 0 {
		workers = 1
	}
	return &Worker{
		reader:   reader,
		writer:   writer,
		engine:   eng,
		hub:      hub,
		rec:      rec,
		cache:    newLatticeCache(eng.Lattices(), eng.TreeRelease, defaultCacheSize),
		workers:  workers,
		validate: validator.New(),
		log:      logger.GetLogger("stream.worker"),

		breaker:    circuit.New("stream.results", circuit.DefaultConfig()),
		retryDelay: time.Second,
	}
}

// Run consumes until ctx is done or the reader fails. Messages are committed
// after their result is written.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Infow("Starting stream worker", "workers", w.workers)
	defer w.cache.close()

	jobs := make(chan kafka.Message, w.workers)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for {
			msg, err := w.reader.FetchMessage(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "fetch request")
			}
			select {
			case jobs <- msg:
			case <-gctx.Done():
				return nil
			}
		}
	})

	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			for msg := range jobs {
				if err := w.process(gctx, msg); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()
	w.log.Info("Stream worker stopped")
	return err
}

// Close closes the reader and writer
func (w *Worker) Close() error {
	rerr := w.reader.Close()
	if err := w.writer.Close(); err != nil {
		return errors.Wrap(err, "close writer")
	}
	return errors.Wrap(rerr, "close reader")
}

// process writes the result of msg and commits it. Only transport failures
// are returned; valuation failures travel in the result.
func (w *Worker) process(ctx context.Context, msg kafka.Message) error {
	start := time.Now()
	res, verr := w.handle(ctx, msg.Key, msg.Value)
	w.rec.RecordStreamMessage("in", verr)

	data, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}
	err = w.write(ctx, kafka.Message{
		Key:   []byte(res.CorrelationID),
		Value: data,
	})
	w.rec.RecordStreamMessage("out", err)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "write result")
	}
	if err := w.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "commit request")
	}
	w.rec.RecordStreamLatency(time.Since(start))

	if res.Report != nil && w.hub != nil && res.Bond != "" {
		if err := w.hub.Publish(res.Bond, res); err != nil {
			w.log.Warnw("Publish failed", "bond", res.Bond, "error", err)
		}
	}
	return nil
}

// write retries a result until it is written, ctx is done or the breaker
// opens
func (w *Worker) write(ctx context.Context, msg kafka.Message) error {
	for {
		err := w.breaker.Execute(ctx, func(ctx context.Context) error {
			return w.writer.WriteMessages(ctx, msg)
		})
		if err == nil || ctx.Err() != nil || errors.Is(err, circuit.ErrOpen) {
			return err
		}
		w.log.Warnw("Result write failed, retrying", "key", string(msg.Key), "error", err)
		select {
		case <-time.After(w.retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Handle values one request. The correlation ID falls back to the message
// key, then to a fresh UUID.
func (w *Worker) Handle(ctx context.Context, key, value []byte) *ValuationResult {
	res, _ := w.handle(ctx, key, value)
	return res
}

func (w *Worker) handle(ctx context.Context, key, value []byte) (*ValuationResult, error) {
	var req ValuationRequest
	res := &ValuationResult{ProcessedAt: time.Now().UTC()}

	if err := json.Unmarshal(value, &req); err != nil {
		err = errors.WithCode(err, errors.ClassInvalidInput, errors.CodeInvalidRequest, "malformed request")
		res.CorrelationID = correlationID("", key)
		res.Error = errorBody(err)
		return res, err
	}
	res.CorrelationID = correlationID(req.CorrelationID, key)
	res.Bond = req.Bond.Name

	rep, err := w.value(ctx, &req)
	res.ProcessedAt = time.Now().UTC()
	if err != nil {
		w.log.Debugw("Valuation failed", "correlation_id", res.CorrelationID, "error", err)
		res.Error = errorBody(err)
		return res, err
	}
	res.Report = rep
	return res, nil
}

func correlationID(id string, key []byte) string {
	if id != "" {
		return id
	}
	if len(key) > 0 {
		return string(key)
	}
	return uuid.NewString()
}

func (w *Worker) value(ctx context.Context, req *ValuationRequest) (*models.BondReport, error) {
	if err := w.validate.Struct(req); err != nil {
		return nil, errors.WithCode(err, errors.ClassInvalidInput, errors.CodeInvalidRequest, "invalid request")
	}
	b, err := req.Bond.Build()
	if err != nil {
		return nil, err
	}
	q, err := req.Quote.Quote()
	if err != nil {
		return nil, err
	}
	key, err := curveKey(req.Curve, req.Spread)
	if err != nil {
		return nil, err
	}
	h, release, err := w.cache.acquire(key, func() (lattice.Handle, error) {
		return w.engine.TreeFit(req.Curve, req.Spread)
	})
	if err != nil {
		return nil, err
	}
	defer release()

	return w.engine.BondVal(ctx, engine.Input{
		PVDate:    req.PVDate,
		Tree:      h,
		Bond:      b,
		TradeDate: req.TradeDate,
		AfterTax:  req.AfterTax,
	}, q, req.Duration)
}
