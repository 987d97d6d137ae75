package main

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds how identity service calls are retried
type RetryPolicy struct {
	Attempts     int           `yaml:"attempts"`
	MinBackoff   time.Duration `yaml:"min_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	RandomFactor float64       `yaml:"random_factor"`
	Timeout      time.Duration `yaml:"timeout"` // per attempt
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     3,
		MinBackoff:   100 * time.Millisecond,
		MaxBackoff:   2 * time.Second,
		RandomFactor: 0.5,
		Timeout:      5 * time.Second,
	}
}

func (p RetryPolicy) backoff(i int) time.Duration {
	minBackoff := p.MinBackoff
	if minBackoff <= 0 {
		minBackoff = 100 * time.Millisecond
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Second
	}
	d := time.Duration(float64(minBackoff) * math.Pow(2, float64(i)))
	if d > maxBackoff {
		d = maxBackoff
	}
	if p.RandomFactor > 0 {
		jitter := 1 + p.RandomFactor*(rand.Float64()*2-1)
		d = time.Duration(float64(d) * jitter)
		if d < 0 {
			d = minBackoff
		}
	}
	return d
}

// Retry runs fn until it succeeds, fails permanently, or the attempts run
// out. Only transient errors and per-attempt timeouts are retried; once
// exhausted the last error is reported as a service failure.
func Retry(ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		err := attempt(ctx, policy.Timeout, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return &ServiceError{Op: op, Message: ctx.Err().Error()}
		case <-time.After(policy.backoff(i)):
		}
	}
	return &ServiceError{Op: op, Message: "retries exhausted: " + lastErr.Error()}
}

func attempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}
