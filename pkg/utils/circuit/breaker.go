package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned without calling fn while the breaker is open
var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	MaxFailures int           // consecutive failures before opening
	Cooldown    time.Duration // time spent open before a trial call
	// Counts decides whether err is a failure. Context cancellation never is.
	Counts func(err error) bool
}

func DefaultConfig() Config {
	return Config{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
	}
}

// Breaker stops calling a failing dependency until a cooldown has passed.
// In the half-open state a single trial call decides whether it closes.
type Breaker struct {
	name   string
	config Config
	now    func() time.Time
	log    *logger.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool
}

func New(name string, config Config) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultConfig().MaxFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{
		name:   name,
		config: config,
		now:    time.Now,
		log:    logger.GetLogger("circuit." + name),
	}
}

// Execute runs fn unless the breaker is open
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.trial = true
		return nil
	case StateHalfOpen:
		if b.trial {
			return ErrOpen
		}
		b.trial = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false

	if !b.failed(err) {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.config.MaxFailures {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

func (b *Breaker) failed(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if b.config.Counts != nil {
		return b.config.Counts(err)
	}
	return true
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateOpen {
		b.log.Warnw("Circuit breaker opened", "from", from.String(), "failures", b.failures)
		return
	}
	b.log.Infow("Circuit breaker state changed", "from", from.String(), "to", to.String())
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trial = false
	b.transition(StateClosed)
}

func (b *Breaker) Name() string {
	return b.name
}
