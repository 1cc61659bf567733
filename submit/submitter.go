// Package submit pushes signed settlement and refund transactions to the
// network with bounded retries and an idempotency journal. A given action id
// is broadcast with one byte-exact payload forever; retries replay the
// journalled transaction and never rebuild it.
package submit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"racewager/native/match"
)

// Sender performs one network broadcast attempt of a raw transaction.
type Sender interface {
	Send(ctx context.Context, rawTx []byte) (string, error)
}

// TransientError marks a broadcast failure as retryable. Failures not wrapped
// in it are terminal and surface to the caller after the first attempt.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable broadcast failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is a retryable broadcast failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

type submitterMetrics struct {
	attempts metric.Int64Counter
	retries  metric.Int64Counter
	failures metric.Int64Counter
}

func newSubmitterMetrics() *submitterMetrics {
	meter := otel.Meter("racewager/submit")
	attempts, err := meter.Int64Counter("submit_attempts_total")
	if err != nil {
		attempts = nil
	}
	retries, err := meter.Int64Counter("submit_retries_total")
	if err != nil {
		retries = nil
	}
	failures, err := meter.Int64Counter("submit_failures_total")
	if err != nil {
		failures = nil
	}
	return &submitterMetrics{attempts: attempts, retries: retries, failures: failures}
}

func (m *submitterMetrics) add(ctx context.Context, counter metric.Int64Counter) {
	if m == nil || counter == nil {
		return
	}
	counter.Add(ctx, 1)
}

// Options tune the submitter. Zero values fall back to defaults.
type Options struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RatePerSecond   float64
	Burst           int
}

const (
	defaultMaxRetries      = 5
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
	defaultRatePerSecond   = 4
	defaultBurst           = 2
)

// Submitter wraps a Sender with journalling, retry, and rate limiting. It
// satisfies the script backend's Broadcaster interface.
type Submitter struct {
	sender  Sender
	journal *Journal
	limiter *rate.Limiter
	opts    Options
	metrics *submitterMetrics
	logger  *slog.Logger
	nowFn   func() int64
}

// NewSubmitter builds a submitter over the sender and journal.
func NewSubmitter(sender Sender, journal *Journal, opts Options, logger *slog.Logger) *Submitter {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaultMaxInterval
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = defaultRatePerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		sender:  sender,
		journal: journal,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		opts:    opts,
		metrics: newSubmitterMetrics(),
		logger:  logger.With("component", "submitter"),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// Broadcast submits rawTx under the action id. A repeat call with the same
// action returns the journalled transaction id without touching the network.
// A repeat call with a different payload for the same action is rejected as
// an integrity failure.
func (s *Submitter) Broadcast(ctx context.Context, action string, rawTx []byte) (string, error) {
	if s == nil || s.sender == nil {
		return "", match.NewTransportError("broadcast", "no sender configured")
	}
	if action == "" {
		return "", match.NewTransportError("broadcast", "empty action id")
	}
	if len(rawTx) == 0 {
		return "", match.NewTransportError("broadcast", "empty transaction")
	}
	payloadHash := hashPayload(rawTx)

	if s.journal != nil {
		entry, err := s.journal.Lookup(action)
		if err != nil {
			return "", err
		}
		if entry != nil {
			if entry.RawTxHash != payloadHash {
				return "", fmt.Errorf("submit: action %s already journalled with different payload", action)
			}
			if entry.TxID != "" {
				s.logger.Info("replaying journalled submission", "action", action, "txId", entry.TxID)
				return entry.TxID, nil
			}
		} else {
			entry = &journalEntry{
				Action:    action,
				RawTxHash: payloadHash,
				CreatedAt: s.nowFn(),
				UpdatedAt: s.nowFn(),
			}
			if err := s.journal.Record(action, entry); err != nil {
				return "", err
			}
		}
	}

	txID, err := s.send(ctx, action, rawTx)
	if err != nil {
		s.metrics.add(ctx, s.metrics.failures)
		return "", err
	}
	if s.journal != nil {
		entry := &journalEntry{
			Action:    action,
			RawTxHash: payloadHash,
			TxID:      txID,
			UpdatedAt: s.nowFn(),
		}
		if err := s.journal.Record(action, entry); err != nil {
			s.logger.Error("journal update failed after broadcast", "action", action, "txId", txID, "error", err)
		}
	}
	return txID, nil
}

func (s *Submitter) send(ctx context.Context, action string, rawTx []byte) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.InitialInterval
	policy.MaxInterval = s.opts.MaxInterval
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, s.opts.MaxRetries), ctx)

	attempt := 0
	var txID string
	operation := func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		s.metrics.add(ctx, s.metrics.attempts)
		if attempt > 1 {
			s.metrics.add(ctx, s.metrics.retries)
		}
		id, err := s.sender.Send(ctx, rawTx)
		if err != nil {
			if IsTransient(err) {
				s.logger.Warn("broadcast attempt failed", "action", action, "attempt", attempt, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		txID = id
		return nil
	}
	if err := backoff.Retry(operation, retry); err != nil {
		if IsTransient(err) {
			return "", match.NewTransportError("broadcast", fmt.Sprintf("action %s failed after %d attempts: %v", action, attempt, err))
		}
		return "", err
	}
	s.logger.Info("transaction broadcast", "action", action, "txId", txID, "attempts", attempt)
	return txID, nil
}

func hashPayload(rawTx []byte) string {
	h := ethcrypto.Keccak256Hash(rawTx)
	return hex.EncodeToString(h[:])
}
