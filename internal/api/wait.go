package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/screenocr/internal/progress"
)

var (
	// ErrLoadFailed is returned by WaitReady when the server reports a failed load.
	ErrLoadFailed = errors.New("model load failed")

	errNotReady = errors.New("models not ready")
)

// WaitOptions configures WaitReady.
type WaitOptions struct {
	// Interval between polls (default: 1s).
	Interval time.Duration
	// Timeout bounds the whole wait (default: 10m).
	Timeout time.Duration
	// OnProgress is called with every state the server reports.
	OnProgress func(progress.State)
}

// WaitReady polls /progress until the models are ready. Connection errors are
// retried so it can be started alongside the server. A load that ends in the
// error state stops the wait with ErrLoadFailed.
func WaitReady(ctx context.Context, c *Client, opts WaitOptions) (progress.State, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var last progress.State
	err := retry.Do(
		func() error {
			var st progress.State
			if err := c.Get(ctx, "/progress", &st); err != nil {
				return err
			}
			last = st
			if opts.OnProgress != nil {
				opts.OnProgress(st)
			}
			switch st.Status {
			case progress.StatusReady:
				return nil
			case progress.StatusError:
				return retry.Unrecoverable(fmt.Errorf("%w: %s", ErrLoadFailed, st.Message))
			default:
				return errNotReady
			}
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(opts.Interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return last, err
}
