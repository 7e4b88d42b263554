package graph

import (
	"context"
	"time"
)

// retrySchedule is the exponential backoff used for transient store errors,
// per the kernel's store reliability contract: 3 attempts, 100/400/1600ms.
var retrySchedule = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

func withRetry(ctx context.Context, transient func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !transient(err) || attempt >= len(retrySchedule) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retrySchedule[attempt]):
		}
	}
}
