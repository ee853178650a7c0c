package policy

import (
	"sync"
	"testing"
	"time"
)

// capturingSender records sends; safe for concurrent use.
type capturingSender struct {
	mu    sync.Mutex
	sends []string
}

func (c *capturingSender) send(identity, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, text)
}

func (c *capturingSender) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sends...)
}

// manualTimer captures scheduled callbacks so tests fire them by hand.
type manualTimer struct {
	mu  sync.Mutex
	fns []func()
}

func (m *manualTimer) after(d time.Duration, fn func()) *time.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fns = append(m.fns, fn)
	return time.NewTimer(time.Hour)
}

func (m *manualTimer) fire(t *testing.T) {
	m.mu.Lock()
	if len(m.fns) == 0 {
		m.mu.Unlock()
		t.Fatalf("no scheduled callback to fire")
	}
	fn := m.fns[0]
	m.fns = m.fns[1:]
	m.mu.Unlock()
	fn()
}

func newTestGate(sender *capturingSender, timer *manualTimer) *Gate {
	return NewGate("owner-1", sender.send,
		WithTexts("offline", "calm"),
		WithAfterFunc(timer.after),
	)
}

func TestClassify(t *testing.T) {
	g := NewGate("owner-1", func(string, string) {})
	if g.Classify("owner-1") != RoleOwner {
		t.Fatalf("owner not classified as owner")
	}
	if g.Classify("somebody") != RoleOther {
		t.Fatalf("stranger classified as owner")
	}
	if g.Classify("") != RoleOther {
		t.Fatalf("empty identity classified as owner")
	}
}

func TestOwnerAlwaysPassesThrough(t *testing.T) {
	sender := &capturingSender{}
	timer := &manualTimer{}
	g := newTestGate(sender, timer)

	for i := 0; i < 5; i++ {
		if d := g.Route("owner-1"); d != DecideModel {
			t.Fatalf("owner decision = %v, want DecideModel", d)
		}
	}
	if len(sender.all()) != 0 {
		t.Fatalf("gate sent %v for owner messages", sender.all())
	}
}

func TestFirstContactSequence(t *testing.T) {
	sender := &capturingSender{}
	timer := &manualTimer{}
	g := newTestGate(sender, timer)

	if d := g.Route("stranger"); d != DecideOffline {
		t.Fatalf("decision = %v, want DecideOffline", d)
	}
	if got := sender.all(); len(got) != 1 || got[0] != "offline" {
		t.Fatalf("sends = %v, want [offline]", got)
	}
	if st := g.StateOf("stranger"); st != StateOfflineSent {
		t.Fatalf("state = %v, want offline_sent", st)
	}

	timer.fire(t)
	if got := sender.all(); len(got) != 2 || got[1] != "calm" {
		t.Fatalf("sends = %v, want [offline calm]", got)
	}
	if st := g.StateOf("stranger"); st != StateSilent {
		t.Fatalf("state = %v, want silent", st)
	}
}

func TestTerminalSilence(t *testing.T) {
	sender := &capturingSender{}
	timer := &manualTimer{}
	g := newTestGate(sender, timer)

	g.Route("stranger")
	timer.fire(t)
	before := len(sender.all())

	for i := 0; i < 10; i++ {
		if d := g.Route("stranger"); d != DecideSilence {
			t.Fatalf("decision = %v, want DecideSilence", d)
		}
	}
	if len(sender.all()) != before {
		t.Fatalf("silent identity produced output: %v", sender.all())
	}
	if st := g.StateOf("stranger"); st != StateSilent {
		t.Fatalf("state = %v, want silent", st)
	}
}

// A second message inside the delay window advances the state first, so
// the delayed calm message must be dropped by the guard check.
func TestRapidSecondMessageSuppressesCalm(t *testing.T) {
	sender := &capturingSender{}
	timer := &manualTimer{}
	g := newTestGate(sender, timer)

	g.Route("stranger")
	if d := g.Route("stranger"); d != DecideSilence {
		t.Fatalf("second message decision = %v, want DecideSilence", d)
	}
	timer.fire(t)

	got := sender.all()
	if len(got) != 1 || got[0] != "offline" {
		t.Fatalf("sends = %v, want exactly one offline text", got)
	}
	if st := g.StateOf("stranger"); st != StateSilent {
		t.Fatalf("state = %v, want silent", st)
	}
}

func TestStateMonotonicUnderConcurrentMessages(t *testing.T) {
	sender := &capturingSender{}
	timer := &manualTimer{}
	g := newTestGate(sender, timer)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Route("stranger")
		}()
	}
	wg.Wait()
	timer.fire(t)

	// Exactly one offline text, at most one calm text.
	offline, calm := 0, 0
	for _, s := range sender.all() {
		switch s {
		case "offline":
			offline++
		case "calm":
			calm++
		}
	}
	if offline != 1 {
		t.Fatalf("offline sends = %d, want 1", offline)
	}
	if calm > 1 {
		t.Fatalf("calm sends = %d, want at most 1", calm)
	}
	if st := g.StateOf("stranger"); st != StateSilent {
		t.Fatalf("state = %v, want silent", st)
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	sender := &capturingSender{}
	timer := &manualTimer{}
	g := newTestGate(sender, timer)

	g.Route("a")
	g.Route("b")

	if got := sender.all(); len(got) != 2 {
		t.Fatalf("sends = %v, want one offline per identity", got)
	}
	if g.StateOf("a") != StateOfflineSent || g.StateOf("b") != StateOfflineSent {
		t.Fatalf("states = (%v, %v)", g.StateOf("a"), g.StateOf("b"))
	}
}
