package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petalhq/blossom/convo"
	"github.com/petalhq/blossom/dispatch"
	"github.com/petalhq/blossom/intent"
	"github.com/petalhq/blossom/llm"
	"github.com/petalhq/blossom/policy"
)

const ownerID = "owner-1"

type fakeDispatcher struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []llm.Request
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, req llm.Request) (llm.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqs = append(d.reqs, req)
	if d.err != nil {
		return llm.Result{}, d.err
	}
	return llm.Result{Text: d.reply}, nil
}

type failingStore struct{}

func (failingStore) Load(ctx context.Context, identity string, limit int) ([]convo.Entry, error) {
	return nil, errors.New("store unreachable")
}

func (failingStore) Append(ctx context.Context, identity string, entries ...convo.Entry) error {
	return errors.New("store unreachable")
}

type sendRecorder struct {
	mu    sync.Mutex
	sends []string
}

func (r *sendRecorder) send(identity, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, text)
}

func (r *sendRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sends...)
}

type fixture struct {
	orc    *Orchestrator
	store  *convo.MemStore
	disp   *fakeDispatcher
	sender *sendRecorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	sender := &sendRecorder{}
	store := convo.NewMemStore(30)
	disp := &fakeDispatcher{reply: "hi there"}
	gate := policy.NewGate(ownerID, sender.send,
		policy.WithTexts("offline", "calm"),
		policy.WithDelay(5*time.Millisecond),
	)
	orc := New(gate, store, disp, sender.send, Config{
		Model:        "test-model",
		MaxTokens:    120,
		HistoryLimit: 30,
		SystemPrompt: "you are a test bot",
		FallbackText: "fallback",
	}, opts...)
	return &fixture{orc: orc, store: store, disp: disp, sender: sender}
}

func TestOwnerTurnSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.orc.OnMessage(ctx, ownerID, "hello")

	if got := f.sender.all(); len(got) != 1 || got[0] != "hi there" {
		t.Fatalf("sends = %v, want [hi there]", got)
	}

	log, err := f.store.Load(ctx, ownerID, 0)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if len(log) != 2 || log[0].Content != "hello" || log[1].Content != "hi there" {
		t.Fatalf("log = %+v, want user hello + assistant hi there", log)
	}
	if log[0].Role != llm.RoleUser || log[1].Role != llm.RoleAssistant {
		t.Fatalf("roles = %q %q", log[0].Role, log[1].Role)
	}
}

func TestOwnerRequestShape(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.orc.OnMessage(ctx, ownerID, "first")
	f.orc.OnMessage(ctx, ownerID, "second")

	if len(f.disp.reqs) != 2 {
		t.Fatalf("dispatch calls = %d, want 2", len(f.disp.reqs))
	}
	req := f.disp.reqs[1]
	// [system] + 2 history entries + [new user message]
	if len(req.Messages) != 4 {
		t.Fatalf("messages = %d, want 4: %+v", len(req.Messages), req.Messages)
	}
	if req.Messages[0].Role != llm.RoleSystem {
		t.Fatalf("first message role = %q, want system", req.Messages[0].Role)
	}
	if last := req.Messages[len(req.Messages)-1]; last.Role != llm.RoleUser || last.Content != "second" {
		t.Fatalf("last message = %+v", last)
	}
	if req.Model != "test-model" || req.MaxTokens != 120 {
		t.Fatalf("req = %+v", req)
	}
}

func TestOwnerExhaustionFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.disp.err = dispatch.ErrAllExhausted

	f.orc.OnMessage(ctx, ownerID, "hello")

	if got := f.sender.all(); len(got) != 1 || got[0] != "fallback" {
		t.Fatalf("sends = %v, want exactly [fallback]", got)
	}
	log, _ := f.store.Load(ctx, ownerID, 0)
	if len(log) != 0 {
		t.Fatalf("store mutated on failed turn: %+v", log)
	}
}

func TestOwnerEmptyCompletionFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.disp.reply = "   "

	f.orc.OnMessage(ctx, ownerID, "hello")

	if got := f.sender.all(); len(got) != 1 || got[0] != "fallback" {
		t.Fatalf("sends = %v, want [fallback]", got)
	}
}

func TestOwnerStoreUnreachableStillReplies(t *testing.T) {
	ctx := context.Background()
	sender := &sendRecorder{}
	disp := &fakeDispatcher{reply: "still here"}
	gate := policy.NewGate(ownerID, sender.send)
	orc := New(gate, failingStore{}, disp, sender.send, Config{
		Model:        "m",
		FallbackText: "fallback",
	})

	orc.OnMessage(ctx, ownerID, "hi")

	if got := sender.all(); len(got) != 1 || got[0] != "still here" {
		t.Fatalf("sends = %v, want [still here]", got)
	}
	// Load failed, so the request carries only system + user.
	if len(disp.reqs) != 1 || len(disp.reqs[0].Messages) != 2 {
		t.Fatalf("reqs = %+v", disp.reqs)
	}
}

func TestLowValueTurnAnsweredNotPersisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.orc.OnMessage(ctx, ownerID, "ok")

	if got := f.sender.all(); len(got) != 1 || got[0] != "hi there" {
		t.Fatalf("sends = %v, want a reply", got)
	}
	log, _ := f.store.Load(ctx, ownerID, 0)
	if len(log) != 0 {
		t.Fatalf("filler turn persisted: %+v", log)
	}
}

func TestIntentReplySkipsModel(t *testing.T) {
	ctx := context.Background()
	table := intent.NewTable([]intent.Rule{
		{Name: "greeting", Keywords: []string{"good morning"}, Reply: "Morning 🙂"},
	})
	f := newFixture(t, WithIntents(table))

	f.orc.OnMessage(ctx, ownerID, "good morning!")

	if got := f.sender.all(); len(got) != 1 || got[0] != "Morning 🙂" {
		t.Fatalf("sends = %v", got)
	}
	if len(f.disp.reqs) != 0 {
		t.Fatalf("model dispatched for intent hit")
	}
	log, _ := f.store.Load(ctx, ownerID, 0)
	if len(log) != 2 {
		t.Fatalf("intent turn not persisted: %+v", log)
	}
}

func TestNonOwnerNeverTouchesModelOrStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.orc.OnMessage(ctx, "stranger", "hello?")
	f.orc.OnMessage(ctx, "stranger", "anyone there?")

	if len(f.disp.reqs) != 0 {
		t.Fatalf("dispatcher called on non-owner path")
	}
	log, _ := f.store.Load(ctx, "stranger", 0)
	if len(log) != 0 {
		t.Fatalf("store written on non-owner path: %+v", log)
	}

	got := f.sender.all()
	if len(got) != 1 || got[0] != "offline" {
		t.Fatalf("sends = %v, want [offline]", got)
	}
}

func TestNonOwnerCalmArrivesAfterDelay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.orc.OnMessage(ctx, "stranger", "hello?")

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := f.sender.all()
		if len(got) == 2 {
			if got[1] != "calm" {
				t.Fatalf("sends = %v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("calm message never fired: %v", got)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestResetHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.orc.OnMessage(ctx, ownerID, "hello")
	if ok := f.orc.ResetHistory(ctx, ownerID); !ok {
		t.Fatalf("ResetHistory = false")
	}
	log, _ := f.store.Load(ctx, ownerID, 0)
	if len(log) != 0 {
		t.Fatalf("log after reset = %+v", log)
	}

	// Stores without Clear report false.
	sender := &sendRecorder{}
	orc := New(policy.NewGate(ownerID, sender.send), failingStore{}, &fakeDispatcher{}, sender.send, Config{})
	if orc.ResetHistory(ctx, ownerID) {
		t.Fatalf("ResetHistory on clear-less store = true")
	}
}
