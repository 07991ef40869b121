package domain

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffDelay computes how long the worker should wait before a
// failed->queued retry becomes eligible for redelivery, per the job's
// BackoffPolicy and attempt count. none always returns 0 (immediate
// redelivery left to the broker); fixed returns minBackoff; exponential
// grows from minBackoff up to maxBackoff using the default growth/jitter
// shape (x1.5 per step, +/-50% randomization) of
// github.com/cenkalti/backoff/v4's ExponentialBackOff.
func BackoffDelay(policy BackoffPolicy, attempt int, minBackoff, maxBackoff time.Duration) time.Duration {
	switch policy {
	case BackoffNone:
		return 0
	case BackoffFixed:
		return minBackoff
	case BackoffExponential:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = minBackoff
		eb.MaxInterval = maxBackoff
		eb.MaxElapsedTime = 0 // never expire; attempt accounting is the ledger's job
		eb.Reset()
		d := eb.NextBackOff()
		for i := 0; i < attempt; i++ {
			d = eb.NextBackOff()
		}
		if d > maxBackoff {
			d = maxBackoff
		}
		return d
	default:
		return minBackoff
	}
}
