// Copyright 2025 TenantGrid
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry implements a bounded retry primitive with fixed or
// exponential backoff. Operations classify their own outcome: returning nil
// means success, returning an error created by Continue means "try again",
// and any other error is fatal and propagates immediately.
//
// The engine has no domain knowledge of what it is polling; the lifecycle
// orchestrator uses it to wait for asynchronous provisioning operations to
// settle.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrExhausted is wrapped by the error returned when an operation keeps
// signalling Continue until MaxAttempts is reached. It is distinct from any
// fatal error the operation itself returns.
var ErrExhausted = errors.New("number of attempts exceeded")

// ExhaustedError reports that the retry budget ran out. It unwraps to
// ErrExhausted so callers can test with errors.Is.
type ExhaustedError struct {
	Attempts int
	Reason   string
}

func (e *ExhaustedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("retry: %v after %d attempts (last: %s)", ErrExhausted, e.Attempts, e.Reason)
	}
	return fmt.Sprintf("retry: %v after %d attempts", ErrExhausted, e.Attempts)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhausted
}

// continueError marks an attempt outcome as retryable. It never escapes the
// retry loop.
type continueError struct {
	reason string
}

func (e *continueError) Error() string {
	return "continue with next attempt: " + e.reason
}

// Continue returns an error that tells the retry loop to schedule another
// attempt.
func Continue(reason string) error {
	return &continueError{reason: reason}
}

// Continuef is Continue with formatting.
func Continuef(format string, args ...interface{}) error {
	return &continueError{reason: fmt.Sprintf(format, args...)}
}

// IsContinue reports whether err carries the retryable marker.
func IsContinue(err error) bool {
	var c *continueError
	return errors.As(err, &c)
}

// Options configures a retry loop. The zero value is usable: defaults are
// applied by Do.
type Options struct {
	// MaxAttempts bounds the number of operation invocations (default 10).
	MaxAttempts int
	// FixedDelay selects a constant interval between attempts instead of
	// exponential backoff.
	FixedDelay bool
	// Delay is the constant interval used when FixedDelay is set
	// (default 30s).
	Delay time.Duration
	// MinDelay seeds the exponential backoff (default 1174ms).
	MinDelay time.Duration
	// Factor is the exponential growth factor (default 2).
	Factor float64
	// MaxDelay caps the exponential backoff (default: no cap).
	MaxDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.Delay <= 0 {
		o.Delay = 30 * time.Second
	}
	if o.MinDelay <= 0 {
		o.MinDelay = 1174 * time.Millisecond
	}
	if o.Factor <= 0 {
		o.Factor = 2
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = time.Duration(math.MaxInt64)
	}
	return o
}

// backoff computes the exponential delay before attempt number tries
// (1-based).
func (o Options) backoff(tries int) time.Duration {
	if tries <= 0 {
		return 0
	}
	d := float64(o.MinDelay) * math.Pow(o.Factor, float64(tries-1))
	if d > float64(o.MaxDelay) {
		return o.MaxDelay
	}
	return time.Duration(d)
}

// Operation is one attempt of a retryable unit of work. attempt is zero-based.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Do runs op until it succeeds, fails fatally, or the attempt budget is
// exhausted. Attempt 0 fires immediately. After a retryable outcome the loop
// suspends for the configured delay; in exponential mode the wall-clock time
// already spent inside the attempt is subtracted from the delay (never below
// zero). Context cancellation aborts the wait.
func Do[T any](ctx context.Context, op Operation[T], opts Options) (T, error) {
	o := opts.withDefaults()

	var zero T
	tries := 0
	for {
		attemptStart := time.Now()

		v, err := op(ctx, tries)
		if err == nil {
			return v, nil
		}

		var cont *continueError
		if !errors.As(err, &cont) {
			// Fatal outcome: propagate without further attempts.
			return zero, err
		}

		tries++
		if tries >= o.MaxAttempts {
			return zero, &ExhaustedError{Attempts: tries, Reason: cont.reason}
		}

		var delay time.Duration
		if o.FixedDelay {
			delay = o.Delay
		} else {
			delay = o.backoff(tries) - time.Since(attemptStart)
			if delay < 0 {
				delay = 0
			}
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
}
