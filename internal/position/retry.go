package position

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"backend-fieldtrack/internal/cadence"
)

const getOnceRetries = 5

// GetOnceWithRetry wraps Source.GetOnce with exponential backoff. Timeout and
// Unavailable are retried with the delay capped at MinInterval*8; permission
// denial is surfaced immediately so the caller can stop until the user
// re-authorizes.
func GetOnceWithRetry(ctx context.Context, src Source, profile cadence.Profile, timeout time.Duration) (LocationSample, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = profile.MinInterval * 8
	bo.MaxElapsedTime = 0

	return backoff.RetryWithData(func() (LocationSample, error) {
		s, err := src.GetOnce(ctx, timeout)
		if err == nil {
			return s, nil
		}
		if errors.Is(err, ErrPermissionDenied) {
			return LocationSample{}, backoff.Permanent(err)
		}
		return LocationSample{}, err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, getOnceRetries), ctx))
}
