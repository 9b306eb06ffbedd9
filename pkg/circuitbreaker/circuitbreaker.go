package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

// ErrOpen возвращается, когда circuit breaker открыт и запросы не выполняются.
var ErrOpen = errors.New("circuit breaker открыт")

// Settings — настройки circuit breaker.
type Settings struct {
	// MaxRequests — количество запросов в half-open состоянии.
	MaxRequests uint32
	// Interval — период сброса счётчиков в closed состоянии.
	Interval time.Duration
	// Timeout — время до перехода из open в half-open.
	Timeout time.Duration
	// FailureRatio — доля ошибок для открытия breaker.
	FailureRatio float64
	// MinRequests — минимум запросов до оценки FailureRatio.
	MinRequests uint32
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker — обёртка над gobreaker с логированием и метриками.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New создаёт Breaker с настройками по умолчанию.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings создаёт Breaker с указанными настройками.
func NewWithSettings(name string, settings Settings) *Breaker {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker сменил состояние")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Breaker{cb: cb, name: name}
}

// Execute выполняет функцию через circuit breaker.
// Возвращает ErrOpen, если breaker открыт или исчерпан лимит half-open запросов.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrOpen
		}
		return result, err
	}
	return result, nil
}

// Do выполняет функцию без результата через circuit breaker.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// IsOpen возвращает true, если breaker не пропускает запросы.
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
