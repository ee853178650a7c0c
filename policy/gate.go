// Package policy decides whether an inbound message reaches the model at
// all. The owner always passes through; everyone else gets a fixed
// two-message discontinuation sequence and then permanent silence.
package policy

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

type Role int

const (
	RoleOwner Role = iota
	RoleOther
)

// State is the non-owner lifecycle. It only moves forward:
// NEW -> OFFLINE_SENT -> SILENT.
type State int

const (
	StateNew State = iota
	StateOfflineSent
	StateSilent
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfflineSent:
		return "offline_sent"
	case StateSilent:
		return "silent"
	default:
		return "unknown"
	}
}

type Decision int

const (
	// DecideModel: owner path, the orchestrator builds a completion.
	DecideModel Decision = iota
	// DecideOffline: first contact from a non-owner; the gate has sent
	// the offline notice and scheduled the calm follow-up itself.
	DecideOffline
	// DecideSilence: terminal non-owner path, nothing goes out.
	DecideSilence
)

const (
	DefaultOfflineDelay = 3 * time.Second

	DefaultOfflineText = "This bot has been discontinued and no longer responds to messages. Sorry for the inconvenience."
	DefaultCalmText    = "Take care of yourself, okay? It was nice while it lasted. 🌸"
)

type SendFunc func(identity, text string)

type Gate struct {
	ownerID     string
	offlineText string
	calmText    string
	delay       time.Duration
	send        SendFunc
	logger      *slog.Logger

	// after is time.AfterFunc unless a test swaps it out.
	after func(d time.Duration, fn func()) *time.Timer

	mu     sync.Mutex
	states map[string]State
}

type Option func(*Gate)

func WithTexts(offline, calm string) Option {
	return func(g *Gate) {
		if strings.TrimSpace(offline) != "" {
			g.offlineText = offline
		}
		if strings.TrimSpace(calm) != "" {
			g.calmText = calm
		}
	}
}

func WithDelay(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.delay = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithAfterFunc(after func(d time.Duration, fn func()) *time.Timer) Option {
	return func(g *Gate) {
		if after != nil {
			g.after = after
		}
	}
}

func NewGate(ownerID string, send SendFunc, opts ...Option) *Gate {
	g := &Gate{
		ownerID:     strings.TrimSpace(ownerID),
		offlineText: DefaultOfflineText,
		calmText:    DefaultCalmText,
		delay:       DefaultOfflineDelay,
		send:        send,
		logger:      slog.Default(),
		after:       time.AfterFunc,
		states:      make(map[string]State),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Classify compares against the configured owner identity. Recomputed on
// every message, never cached, so an owner change applies immediately.
func (g *Gate) Classify(identity string) Role {
	if strings.TrimSpace(identity) == g.ownerID && g.ownerID != "" {
		return RoleOwner
	}
	return RoleOther
}

// Route drives the non-owner state machine and performs its sends. The
// returned decision tells the orchestrator whether the model runs.
func (g *Gate) Route(identity string) Decision {
	if g.Classify(identity) == RoleOwner {
		return DecideModel
	}

	g.mu.Lock()
	st := g.states[identity]
	switch st {
	case StateNew:
		g.states[identity] = StateOfflineSent
		g.mu.Unlock()

		g.logger.Info("gate_offline_notice", "identity", identity)
		g.send(identity, g.offlineText)
		g.after(g.delay, func() { g.fireCalm(identity) })
		return DecideOffline
	default:
		// Any message after the first pins the state to SILENT, which
		// also cancels a pending calm message via its guard check.
		g.states[identity] = StateSilent
		g.mu.Unlock()
		return DecideSilence
	}
}

// fireCalm delivers the delayed follow-up. The guard check and the
// transition happen under the gate lock, so a message that raced the
// timer and already advanced the state wins and the calm text is
// dropped; the timer firing first advances to SILENT itself.
func (g *Gate) fireCalm(identity string) {
	g.mu.Lock()
	if g.states[identity] != StateOfflineSent {
		g.mu.Unlock()
		return
	}
	g.states[identity] = StateSilent
	g.mu.Unlock()

	g.logger.Info("gate_calm_notice", "identity", identity)
	g.send(identity, g.calmText)
}

// StateOf reports the current lifecycle state for a non-owner identity.
func (g *Gate) StateOf(identity string) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[identity]
}
