// Package retry implements the Retry Engine: per-request
// deadlines, the error classification table, and the MOVED/ASK redirect
// counter.
package retry

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/glidecore/valkeycore/apierrors"
	"github.com/glidecore/valkeycore/internal/pool"
	"github.com/glidecore/valkeycore/internal/resp"
)

// ToError normalizes one attempt's outcome into a single error the
// classification table can switch on: a RESP error reply becomes a
// ResponseError carrying the server's code (e.g. "MOVED", "TRYAGAIN"),
// and a transport-level error passes through unchanged.
func ToError(v resp.Value, transportErr error) error {
	if transportErr != nil {
		return transportErr
	}
	if v.Kind == resp.KindError {
		return apierrors.NewResponseError(v.Code, string(v.Str))
	}
	return nil
}

// Action is what the engine decided to do with a failed attempt.
type Action int

const (
	// Surface means stop retrying and return the error to the caller.
	Surface Action = iota
	// RetrySameNode means redispatch to the node named by Redirect,
	// prefixed with ASKING (ASK, one-shot).
	RetrySameNode
	// RetryNode means redispatch to the node named by Redirect.
	RetryNode
	// RetryFreshConnection means reconnect and try again (idempotent
	// commands only, on Timeout/ConnectionClosed/ConnectionRefused).
	RetryFreshConnection
	// RetryBackoff means wait Delay then retry the same plan
	// (TRYAGAIN/CLUSTERDOWN, or LOADING with no replica to steer to).
	RetryBackoff
	// RefreshAndRetry means trigger a topology refresh, then redispatch
	// (READONLY on an intended primary).
	RefreshAndRetry
	// RetryDifferentReplica means redispatch the read to a replica other
	// than the one that just answered (LOADING, with PreferReplica/
	// AZAffinity in effect). The caller re-runs read-node selection
	// excluding the node that reported LOADING.
	RetryDifferentReplica
)

// Redirect describes a MOVED/ASK target.
type Redirect struct {
	Slot int
	Addr string
	Ask  bool
}

// Decision is the engine's verdict for one failed attempt.
type Decision struct {
	Action   Action
	Redirect Redirect
	Delay    time.Duration
}

// ErrTooManyRedirects is the TooManyRedirects error value. Classify does
// not return it: once a request's MOVED/ASK counter exceeds MaxRedirects,
// Classify returns Surface and the caller returns the last MOVED/ASK
// response error as is.
var ErrTooManyRedirects = apierrors.New(apierrors.TooManyRedirects, "too many MOVED/ASK redirects")

// DefaultMaxRedirects is the spec's default redirect ceiling.
const DefaultMaxRedirects = 5

// Budget tracks one request's deadline and redirect counter across
// attempts.
type Budget struct {
	Deadline     time.Time
	MaxRedirects int
	redirects    int
	Backoff      pool.Backoff
	attempt      int
}

// NewBudget starts a Budget with the given total timeout.
func NewBudget(timeout time.Duration, backoff pool.Backoff) *Budget {
	if backoff == (pool.Backoff{}) {
		backoff = pool.DefaultBackoff
	}
	maxR := DefaultMaxRedirects
	return &Budget{Deadline: time.Now().Add(timeout), MaxRedirects: maxR, Backoff: backoff}
}

// Expired reports whether the request's deadline has passed.
func (b *Budget) Expired() bool {
	return time.Now().After(b.Deadline)
}

// Remaining returns the time left until the deadline (zero if expired).
func (b *Budget) Remaining() time.Duration {
	d := time.Until(b.Deadline)
	if d < 0 {
		return 0
	}
	return d
}

// Classify inspects err and returns the action the retry engine should
// take, idempotent reflects the command
// table's Idempotent flag; readOnly/preferReplica describe the read-from
// policy in effect, needed for the LOADING branch.
func (b *Budget) Classify(err error, idempotent, readOnly, preferReplica bool) Decision {
	if b.Expired() {
		return Decision{Action: Surface}
	}

	if redir, ask, ok := parseRedirect(err); ok {
		b.redirects++
		if b.redirects > b.MaxRedirects {
			return Decision{Action: Surface}
		}
		if ask {
			return Decision{Action: RetrySameNode, Redirect: Redirect{Slot: redir.Slot, Addr: redir.Addr, Ask: true}}
		}
		return Decision{Action: RetryNode, Redirect: Redirect{Slot: redir.Slot, Addr: redir.Addr}}
	}

	var apiErr *apierrors.Error
	if aerr, ok := asAPIError(err); ok {
		apiErr = aerr
	}

	if apiErr != nil {
		switch apiErr.Code {
		case "TRYAGAIN", "CLUSTERDOWN":
			return b.backoffDecision()
		case "LOADING":
			if readOnly && preferReplica {
				return Decision{Action: RetryDifferentReplica}
			}
			return b.backoffDecision()
		case "READONLY":
			return Decision{Action: RefreshAndRetry}
		}

		switch apiErr.Kind {
		case apierrors.Timeout, apierrors.ConnectionClosed, apierrors.Disconnect:
			if idempotent {
				return Decision{Action: RetryFreshConnection}
			}
			return Decision{Action: Surface}
		}
	}

	return Decision{Action: Surface}
}

func (b *Budget) backoffDecision() Decision {
	delay := b.Backoff.Delay(b.attempt)
	b.attempt++
	if remaining := b.Remaining(); delay > remaining {
		delay = remaining
	}
	return Decision{Action: RetryBackoff, Delay: delay}
}

// Wait sleeps for d or until ctx is done, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func asAPIError(err error) (*apierrors.Error, bool) {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if ae, ok := e.(*apierrors.Error); ok {
			return ae, true
		}
		u, ok := e.(unwrapper)
		if !ok {
			return nil, false
		}
		e = u.Unwrap()
	}
	return nil, false
}

// parseRedirect recognizes "MOVED <slot> <host:port>" and
// "ASK <slot> <host:port>" response-error messages.
func parseRedirect(err error) (Redirect, bool, bool) {
	ae, ok := asAPIError(err)
	if !ok {
		return Redirect{}, false, false
	}
	var ask bool
	switch ae.Code {
	case "MOVED":
		ask = false
	case "ASK":
		ask = true
	default:
		return Redirect{}, false, false
	}

	fields := strings.Fields(ae.Message)
	if len(fields) < 2 {
		return Redirect{}, false, false
	}
	slot, err2 := strconv.Atoi(fields[0])
	if err2 != nil {
		return Redirect{}, false, false
	}
	return Redirect{Slot: slot, Addr: fields[1]}, ask, true
}
