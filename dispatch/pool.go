// Package dispatch rotates completion calls across a pool of provider
// credentials, shedding failing credentials for a cool-down instead of
// retrying them in a tight loop.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/petalhq/blossom/llm"
)

// ErrAllExhausted means every credential in the pool (and the secondary
// tier, if any) failed or was suspended during one dispatch pass. The
// caller must treat this as "no reply available".
var ErrAllExhausted = errors.New("dispatch: all credentials exhausted")

const (
	DefaultFailureThreshold = 2
	DefaultSuspendDuration  = 30 * time.Minute
	DefaultCallTimeout      = 20 * time.Second
)

// Credential pairs a client bound to one API key with a positional label.
// The label is what shows up in logs; the key itself never does.
type Credential struct {
	Label  string
	Client llm.Client
}

type credentialState struct {
	label          string
	client         llm.Client
	failures       int
	suspendedUntil time.Time
}

type Pool struct {
	mu        sync.Mutex
	creds     []*credentialState
	cursor    int
	threshold int
	banFor    time.Duration
	timeout   time.Duration
	secondary llm.Client
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Pool)

func WithFailureThreshold(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.threshold = n
		}
	}
}

func WithSuspendDuration(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.banFor = d
		}
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithSecondary adds a one-shot fallback tier tried after the primary
// pool is exhausted.
func WithSecondary(client llm.Client) Option {
	return func(p *Pool) { p.secondary = client }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPool(creds []Credential, opts ...Option) *Pool {
	p := &Pool{
		threshold: DefaultFailureThreshold,
		banFor:    DefaultSuspendDuration,
		timeout:   DefaultCallTimeout,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, c := range creds {
		p.creds = append(p.creds, &credentialState{label: c.Label, client: c.Client})
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Dispatch makes one pass over the pool: each credential is attempted at
// most once, suspended credentials are skipped, the first success wins.
// The secondary tier, if configured, is tried once after the pass.
func (p *Pool) Dispatch(ctx context.Context, req llm.Request) (llm.Result, error) {
	n := len(p.creds)
	for i := 0; i < n; i++ {
		cred := p.next()
		if cred == nil {
			continue
		}

		res, err := p.attempt(ctx, cred.client, req)
		if err != nil {
			p.penalize(cred, err)
			continue
		}
		p.reward(cred)
		return res, nil
	}

	if p.secondary != nil {
		res, err := p.attempt(ctx, p.secondary, req)
		if err == nil {
			return res, nil
		}
		p.logger.Warn("dispatch_secondary_failed", "error", err.Error())
	}

	return llm.Result{}, ErrAllExhausted
}

// next advances the cursor and returns the next usable credential, or
// nil when the slot it landed on is suspended.
func (p *Pool) next() *credentialState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) == 0 {
		return nil
	}
	cred := p.creds[p.cursor%len(p.creds)]
	p.cursor++
	if !cred.suspendedUntil.IsZero() && p.now().Before(cred.suspendedUntil) {
		p.logger.Debug("dispatch_credential_skipped",
			"credential", cred.label,
			"suspended_until", cred.suspendedUntil.Format(time.RFC3339),
		)
		return nil
	}
	return cred
}

func (p *Pool) attempt(ctx context.Context, client llm.Client, req llm.Request) (llm.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return client.Chat(callCtx, req)
}

func (p *Pool) penalize(cred *credentialState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cred.failures++
	suspended := false
	if cred.failures >= p.threshold {
		cred.suspendedUntil = p.now().Add(p.banFor)
		suspended = true
	}
	p.logger.Warn("dispatch_attempt_failed",
		"credential", cred.label,
		"consecutive_failures", cred.failures,
		"suspended", suspended,
		"error", err.Error(),
	)
}

func (p *Pool) reward(cred *credentialState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cred.failures = 0
	cred.suspendedUntil = time.Time{}
}

// Revive clears all credential health. Administrative hook, wired to the
// owner /revive command.
func (p *Pool) Revive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cred := range p.creds {
		cred.failures = 0
		cred.suspendedUntil = time.Time{}
	}
	p.logger.Info("dispatch_pool_revived", "credentials", len(p.creds))
}
