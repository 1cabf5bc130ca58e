package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Returned by Breaker while the circuit for a URL is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type BreakerConfig struct {
	// Consecutive failures that open the circuit. Default 5.
	ConsecutiveFailures uint32

	// Time spent open before letting a probe request through.
	// Default 60s.
	Timeout time.Duration

	// Called with the URL when a circuit changes state.
	OnStateChange func(url string, from gobreaker.State, to gobreaker.State)
}

// Wraps a Downloader with one circuit breaker per URL.
type Breaker struct {
	downloader Downloader
	config     BreakerConfig

	mutex    sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

func NewBreaker(d Downloader, cfg BreakerConfig) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Breaker{
		downloader: d,
		config:     cfg,
		breakers:   map[string]*gobreaker.CircuitBreaker[[]byte]{},
	}
}

func (b *Breaker) breaker(url string) *gobreaker.CircuitBreaker[[]byte] {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if cb, found := b.breakers[url]; found {
		return cb
	}

	threshold := b.config.ConsecutiveFailures
	settings := gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Timeout:     b.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Our own cancellation says nothing about the feed.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	if b.config.OnStateChange != nil {
		settings.OnStateChange = b.config.OnStateChange
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](settings)
	b.breakers[url] = cb
	return cb
}

func (b *Breaker) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	body, err := b.breaker(url).Execute(func() ([]byte, error) {
		return b.downloader.Get(ctx, url, headers, options)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", url, ErrCircuitOpen)
	}
	return body, err
}

// Current state of the circuit for url. Closed if never used.
func (b *Breaker) State(url string) gobreaker.State {
	return b.breaker(url).State()
}
