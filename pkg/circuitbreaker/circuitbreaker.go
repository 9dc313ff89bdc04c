package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

type Settings struct {
	Name        string
	MaxRequests int
	Interval    time.Duration
	Timeout     time.Duration
}

// CircuitBreaker guards calls to an unreliable downstream dependency.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	return &CircuitBreaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        settings.Name,
			MaxRequests: uint32(settings.MaxRequests),
			Interval:    settings.Interval,
			Timeout:     settings.Timeout,
		}),
	}
}

func (c *CircuitBreaker) Execute(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}
