package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pocketsage/pocketsage/internal/history"
	"github.com/pocketsage/pocketsage/internal/llm"
	"github.com/pocketsage/pocketsage/pkg/models"
)

func newTestOrchestrator(t *testing.T, gw llm.Gateway, svc *fakeFinance, hist history.Store) *Orchestrator {
	t.Helper()
	if hist == nil {
		hist = history.NewMemoryStore()
	}
	registry, err := NewRegistry(NewCatalog(svc)...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	log := slog.New(slog.DiscardHandler)
	o, err := NewOrchestrator(OrchestratorConfig{
		Gateway:    gw,
		Registry:   registry,
		Dispatcher: NewDispatcher(registry, log, nil),
		Assembler:  NewContextAssembler(svc, 10),
		History:    hist,
		Logger:     log,
		Options:    Options{ChunkSize: 8, ChunkDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

// collect returns a sink appending into events.
func collect(events *[]Event) Sink {
	return func(e Event) error {
		*events = append(*events, e)
		return nil
	}
}

// assertProtocol checks the connected, chunk*, (complete|error) shape and
// returns the terminal event.
func assertProtocol(t *testing.T, events []Event) Event {
	t.Helper()
	if len(events) < 2 {
		t.Fatalf("expected at least connected and a terminator, got %d events", len(events))
	}
	if events[0].Type != EventConnected {
		t.Fatalf("first event = %s, want connected", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != EventComplete && last.Type != EventError {
		t.Fatalf("last event = %s, want complete or error", last.Type)
	}
	for _, e := range events[1 : len(events)-1] {
		if e.Type != EventChunk {
			t.Fatalf("interior event = %s, want chunk", e.Type)
		}
	}
	return last
}

func chunkText(events []Event) string {
	var b strings.Builder
	for _, e := range events {
		if e.Type == EventChunk {
			b.WriteString(e.Content)
		}
	}
	return b.String()
}

func TestRunDirectAnswer(t *testing.T) {
	const answer = "You spent $42.00 this month, mostly on groceries."
	gw := &fakeGateway{
		completeFn: func(_ int, _ *llm.CompletionRequest) (*llm.Completion, error) {
			return &llm.Completion{Content: answer}, nil
		},
	}
	svc := &fakeFinance{}
	hist := history.NewMemoryStore()
	o := newTestOrchestrator(t, gw, svc, hist)

	var events []Event
	o.Run(context.Background(), "u1", "how much did I spend?", collect(&events))

	last := assertProtocol(t, events)
	if last.Type != EventComplete {
		t.Fatalf("terminal = %s (%s), want complete", last.Type, last.Message)
	}
	if got := chunkText(events); got != answer {
		t.Errorf("chunk concatenation = %q, want %q", got, answer)
	}
	if last.FullResponse != answer {
		t.Errorf("fullResponse = %q, want %q", last.FullResponse, answer)
	}
	if _, err := time.Parse(time.RFC3339, last.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC 3339: %v", last.Timestamp, err)
	}
	if len(gw.streamReqs) != 0 {
		t.Errorf("streaming endpoint called %d times for a tool-free answer", len(gw.streamReqs))
	}

	turns, err := hist.Recent(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 1 || turns[0].AIResponse != answer {
		t.Errorf("persisted turns = %+v, want one turn with the full answer", turns)
	}
}

func TestRunToolRound(t *testing.T) {
	gw := &fakeGateway{
		completeFn: func(_ int, _ *llm.CompletionRequest) (*llm.Completion, error) {
			return &llm.Completion{
				Content: "I'll record that.",
				ToolCalls: []llm.ToolCall{{
					ID:        "call-1",
					Name:      "add_transaction",
					Arguments: json.RawMessage(`{"description":"coffee","amount":4.5,"category_id":"cat-1"}`),
				}},
			}, nil
		},
		streamFn: func(req *llm.CompletionRequest, onFragment func(string) error) error {
			if err := onFragment("Recorded "); err != nil {
				return err
			}
			return onFragment("your coffee.")
		},
	}
	svc := &fakeFinance{}
	o := newTestOrchestrator(t, gw, svc, nil)

	var events []Event
	o.Run(context.Background(), "u1", "add a $4.50 coffee", collect(&events))

	last := assertProtocol(t, events)
	if last.Type != EventComplete {
		t.Fatalf("terminal = %s (%s), want complete", last.Type, last.Message)
	}
	if got := chunkText(events); got != "Recorded your coffee." {
		t.Errorf("streamed text = %q", got)
	}

	found := false
	for _, c := range svc.callLog() {
		if c == "AddTransaction" {
			found = true
		}
	}
	if !found {
		t.Error("AddTransaction was never dispatched")
	}

	if len(gw.streamReqs) != 1 {
		t.Fatalf("stream calls = %d, want 1", len(gw.streamReqs))
	}
	req := gw.streamReqs[0]
	if len(req.Tools) != 0 {
		t.Errorf("round 2 carried %d tool specs, want none", len(req.Tools))
	}
	lastMsg := req.Messages[len(req.Messages)-1]
	if lastMsg.Role != "user" || !strings.Contains(lastMsg.Content, "add_transaction: SUCCESS") {
		t.Errorf("round 2 outcome message = %+v", lastMsg)
	}
}

func TestRunDispatchesSequentially(t *testing.T) {
	gw := &fakeGateway{
		completeFn: func(_ int, _ *llm.CompletionRequest) (*llm.Completion, error) {
			return &llm.Completion{
				ToolCalls: []llm.ToolCall{
					{ID: "c1", Name: "create_category", Arguments: json.RawMessage(`{"name":"Groceries"}`)},
					{ID: "c2", Name: "add_transaction", Arguments: json.RawMessage(`{"description":"milk","amount":3,"category_id":"cat-1"}`)},
				},
			}, nil
		},
	}
	svc := &fakeFinance{}
	o := newTestOrchestrator(t, gw, svc, nil)

	var events []Event
	o.Run(context.Background(), "u1", "set up groceries and add milk", collect(&events))

	var mutations []string
	for _, c := range svc.callLog() {
		if c == "CreateCategory" || c == "AddTransaction" {
			mutations = append(mutations, c)
		}
	}
	want := []string{"CreateCategory", "AddTransaction"}
	if len(mutations) != len(want) {
		t.Fatalf("mutations = %v, want %v", mutations, want)
	}
	for i := range want {
		if mutations[i] != want[i] {
			t.Fatalf("mutations = %v, want %v", mutations, want)
		}
	}
}

func TestRunDeduplicatesRepeatedCalls(t *testing.T) {
	gw := &fakeGateway{
		completeFn: func(_ int, _ *llm.CompletionRequest) (*llm.Completion, error) {
			return &llm.Completion{
				ToolCalls: []llm.ToolCall{
					{ID: "c1", Name: "add_transaction", Arguments: json.RawMessage(`{"description":"coffee","amount":4.5,"category_id":"cat-1"}`)},
					// Same call with reordered keys and extra whitespace.
					{ID: "c2", Name: "add_transaction", Arguments: json.RawMessage(`{ "category_id":"cat-1", "amount":4.5, "description":"coffee" }`)},
				},
			}, nil
		},
	}
	svc := &fakeFinance{}
	o := newTestOrchestrator(t, gw, svc, nil)

	var events []Event
	o.Run(context.Background(), "u1", "add coffee twice?", collect(&events))

	executions := 0
	for _, c := range svc.callLog() {
		if c == "AddTransaction" {
			executions++
		}
	}
	if executions != 1 {
		t.Errorf("AddTransaction executed %d times, want 1", executions)
	}

	req := gw.streamReqs[0]
	outcomes := req.Messages[len(req.Messages)-1].Content
	if !strings.Contains(outcomes, "duplicate of an earlier call") {
		t.Errorf("outcome message lacks duplicate note:\n%s", outcomes)
	}
	if strings.Count(outcomes, "add_transaction: SUCCESS") != 2 {
		t.Errorf("both calls should report the shared outcome:\n%s", outcomes)
	}
}

func TestRunEnforcesToolCallCap(t *testing.T) {
	var calls []llm.ToolCall
	for i := 0; i < 10; i++ {
		calls = append(calls, llm.ToolCall{
			ID:        "c" + string(rune('0'+i)),
			Name:      "create_category",
			Arguments: json.RawMessage(`{"name":"cat-` + string(rune('0'+i)) + `"}`),
		})
	}
	gw := &fakeGateway{
		completeFn: func(_ int, _ *llm.CompletionRequest) (*llm.Completion, error) {
			return &llm.Completion{ToolCalls: calls}, nil
		},
	}
	svc := &fakeFinance{}
	o := newTestOrchestrator(t, gw, svc, nil)
	o.opts.MaxToolCalls = 3

	var events []Event
	o.Run(context.Background(), "u1", "make lots of categories", collect(&events))

	executed := 0
	for _, c := range svc.callLog() {
		if c == "CreateCategory" {
			executed++
		}
	}
	if executed != 3 {
		t.Errorf("executed %d calls, want 3", executed)
	}
	outcomes := gw.streamReqs[0].Messages[len(gw.streamReqs[0].Messages)-1].Content
	if !strings.Contains(outcomes, "tool call limit reached") {
		t.Errorf("outcome message lacks cap note:\n%s", outcomes)
	}
}

func TestRunUnavailableFallsBackToApology(t *testing.T) {
	gw := &fakeGateway{
		completeFn: func(_ int, _ *llm.CompletionRequest) (*llm.Completion, error) {
			return nil, &llm.GatewayError{Kind: llm.KindUnavailable, Provider: "fake", Cause: errors.New("connection refused")}
		},
	}
	svc := &fakeFinance{}
	hist := history.NewMemoryStore()
	o := newTestOrchestrator(t, gw, svc, hist)

	var events []Event
	o.Run(context.Background(), "u1", "hello", collect(&events))

	last := assertProtocol(t, events)
	if last.Type != EventComplete {
		t.Fatalf("terminal = %s, want complete; outages must not surface as errors", last.Type)
	}
	if got := chunkText(events); got != fallbackMessage {
		t.Errorf("streamed text = %q, want the scripted fallback", got)
	}
	turns, _ := hist.Recent(context.Background(), "u1", 5)
	if len(turns) != 1 || turns[0].AIResponse != fallbackMessage {
		t.Errorf("fallback turn not persisted: %+v", turns)
	}
}

func TestRunStreamInterruptedAfterChunks(t *testing.T) {
	gw := &fakeGateway{
		completeFn: func(_ int, _ *llm.CompletionRequest) (*llm.Completion, error) {
			return &llm.Completion{
				ToolCalls: []llm.ToolCall{{ID: "c1", Name: "create_category", Arguments: json.RawMessage(`{"name":"Food"}`)}},
			}, nil
		},
		streamFn: func(_ *llm.CompletionRequest, onFragment func(string) error) error {
			if err := onFragment("partial "); err != nil {
				return err
			}
			return &llm.GatewayError{Kind: llm.KindUnavailable, Cause: errors.New("connection reset")}
		},
	}
	hist := history.NewMemoryStore()
	o := newTestOrchestrator(t, gw, &fakeFinance{}, hist)

	var events []Event
	o.Run(context.Background(), "u1", "add a category", collect(&events))

	last := assertProtocol(t, events)
	if last.Type != EventError {
		t.Fatalf("terminal = %s, want error once chunks were already sent", last.Type)
	}
	turns, _ := hist.Recent(context.Background(), "u1", 5)
	if len(turns) != 0 {
		t.Errorf("interrupted turn must not be persisted, got %+v", turns)
	}
}

func TestRunRetriesUnparsableArgumentsOnce(t *testing.T) {
	gw := &fakeGateway{
		completeFn: func(call int, req *llm.CompletionRequest) (*llm.Completion, error) {
			if call == 0 {
				return &llm.Completion{
					ToolCalls: []llm.ToolCall{{ID: "c1", Name: "add_transaction", Arguments: json.RawMessage(`{bad json`)}},
				}, nil
			}
			return &llm.Completion{Content: "All done."}, nil
		},
	}
	svc := &fakeFinance{}
	o := newTestOrchestrator(t, gw, svc, nil)

	var events []Event
	o.Run(context.Background(), "u1", "add something", collect(&events))

	last := assertProtocol(t, events)
	if last.Type != EventComplete || last.FullResponse != "All done." {
		t.Fatalf("terminal = %+v, want complete with the retry answer", last)
	}
	if len(gw.completeReqs) != 2 {
		t.Fatalf("Complete called %d times, want 2", len(gw.completeReqs))
	}
	if !strings.Contains(gw.completeReqs[1].System, "valid JSON objects") {
		t.Errorf("retry lacked the stricter instruction:\n%s", gw.completeReqs[1].System)
	}
}

func TestRunUnparsableTwiceBecomesNarrative(t *testing.T) {
	gw := &fakeGateway{
		completeFn: func(_ int, _ *llm.CompletionRequest) (*llm.Completion, error) {
			return &llm.Completion{
				Content:   "I tried to add it.",
				ToolCalls: []llm.ToolCall{{ID: "c1", Name: "add_transaction", Arguments: json.RawMessage(`not json`)}},
			}, nil
		},
	}
	svc := &fakeFinance{}
	o := newTestOrchestrator(t, gw, svc, nil)

	var events []Event
	o.Run(context.Background(), "u1", "add something", collect(&events))

	last := assertProtocol(t, events)
	if last.Type != EventComplete || last.FullResponse != "I tried to add it." {
		t.Fatalf("terminal = %+v, want the narrative content", last)
	}
	if len(gw.completeReqs) != 2 {
		t.Errorf("Complete called %d times, want exactly one retry", len(gw.completeReqs))
	}
	for _, c := range svc.callLog() {
		if c == "AddTransaction" {
			t.Error("unparsable call must never reach the facade")
		}
	}
	if len(gw.streamReqs) != 0 {
		t.Errorf("no second round expected, got %d stream calls", len(gw.streamReqs))
	}
}

type failingHistory struct{}

func (failingHistory) Recent(context.Context, string, int) ([]models.ConversationTurn, error) {
	return nil, nil
}

func (failingHistory) Append(context.Context, string, models.ConversationTurn) error {
	return errors.New("disk full")
}

func TestRunPersistFailureIsFatal(t *testing.T) {
	gw := &fakeGateway{
		completeFn: func(_ int, _ *llm.CompletionRequest) (*llm.Completion, error) {
			return &llm.Completion{Content: "saved!"}, nil
		},
	}
	o := newTestOrchestrator(t, gw, &fakeFinance{}, failingHistory{})

	var events []Event
	o.Run(context.Background(), "u1", "hello", collect(&events))

	last := assertProtocol(t, events)
	if last.Type != EventError {
		t.Fatalf("terminal = %s, want error when persistence fails", last.Type)
	}
	if !strings.Contains(last.Message, "save") {
		t.Errorf("error message = %q", last.Message)
	}
}

func TestRunStopsWhenClientDisconnects(t *testing.T) {
	gw := &fakeGateway{
		completeFn: func(_ int, _ *llm.CompletionRequest) (*llm.Completion, error) {
			return &llm.Completion{Content: strings.Repeat("x", 100)}, nil
		},
	}
	hist := history.NewMemoryStore()
	o := newTestOrchestrator(t, gw, &fakeFinance{}, hist)

	var events []Event
	sink := func(e Event) error {
		events = append(events, e)
		if e.Type == EventChunk {
			return errors.New("client gone")
		}
		return nil
	}
	o.Run(context.Background(), "u1", "hello", sink)

	for _, e := range events {
		if e.Type == EventComplete || e.Type == EventError {
			t.Fatalf("no terminator should follow a client disconnect, got %s", e.Type)
		}
	}
	turns, _ := hist.Recent(context.Background(), "u1", 5)
	if len(turns) != 0 {
		t.Errorf("partial turn must not be persisted, got %+v", turns)
	}
}

func TestRunReplaysHistoryOldestFirst(t *testing.T) {
	hist := history.NewMemoryStore()
	ctx := context.Background()
	for _, m := range []string{"first", "second"} {
		if err := hist.Append(ctx, "u1", models.ConversationTurn{UserMessage: m, AIResponse: "re: " + m}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	gw := &fakeGateway{}
	o := newTestOrchestrator(t, gw, &fakeFinance{}, hist)

	var events []Event
	o.Run(ctx, "u1", "third", collect(&events))

	msgs := gw.completeReqs[0].Messages
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5 (two replayed pairs plus the new message)", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[2].Content != "second" || msgs[4].Content != "third" {
		t.Errorf("history not replayed oldest-first: %+v", msgs)
	}
	if msgs[1].Role != "assistant" || msgs[3].Role != "assistant" {
		t.Errorf("replayed responses must carry the assistant role: %+v", msgs)
	}
}
