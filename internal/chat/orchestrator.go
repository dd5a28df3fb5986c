// Package chat implements the conversational tool-orchestration engine: a
// two-round protocol that turns a free-text user request into validated tool
// executions against the finance facade and streams the narrated answer back.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pocketsage/pocketsage/internal/history"
	"github.com/pocketsage/pocketsage/internal/llm"
	"github.com/pocketsage/pocketsage/internal/observability"
	"github.com/pocketsage/pocketsage/pkg/models"
)

// fallbackMessage is chunked through the normal streaming path whenever the
// remote model service is unavailable, so the client-visible contract never
// differs by failure type.
const fallbackMessage = "I'm sorry, I'm having trouble reaching the assistant service right now. " +
	"Your financial data is unaffected. Please try again in a moment."

// state is the orchestrator's position in the round-trip protocol.
type state int

const (
	stateIdle state = iota
	stateAwaitingRound1
	stateDispatchingTools
	stateAwaitingRound2
	stateStreamingDirect
	stateCompleted
	stateFailed
)

// Options tunes the orchestrator. Zero values take defaults.
type Options struct {
	// Model overrides the gateway's default model when non-empty.
	Model string

	// MaxTokens caps generation length per round.
	MaxTokens int

	// HistoryWindow is the number of past turns replayed for grounding.
	HistoryWindow int

	// MaxToolCalls caps tool calls honored per round; the excess fails
	// without execution.
	MaxToolCalls int

	// ChunkSize is the fragment size (in runes) used when a buffered
	// response is replayed as a fabricated stream.
	ChunkSize int

	// ChunkDelay is the artificial delay between fabricated fragments.
	ChunkDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 5
	}
	if o.MaxToolCalls <= 0 {
		o.MaxToolCalls = 8
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 48
	}
	if o.ChunkDelay <= 0 {
		o.ChunkDelay = 30 * time.Millisecond
	}
	return o
}

// OrchestratorConfig carries the orchestrator's dependencies.
type OrchestratorConfig struct {
	Gateway    llm.Gateway
	Registry   *Registry
	Dispatcher *Dispatcher
	Assembler  *ContextAssembler
	History    history.Store
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Options    Options
}

// Orchestrator drives the two-round conversation protocol. It is stateless
// across requests; each Run owns its private turn state, so one instance
// serves concurrent requests.
type Orchestrator struct {
	gateway    llm.Gateway
	registry   *Registry
	dispatcher *Dispatcher
	assembler  *ContextAssembler
	history    history.Store
	log        *slog.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
	opts       Options
}

// NewOrchestrator validates cfg and builds an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	switch {
	case cfg.Gateway == nil:
		return nil, errors.New("gateway is required")
	case cfg.Registry == nil:
		return nil, errors.New("registry is required")
	case cfg.Dispatcher == nil:
		return nil, errors.New("dispatcher is required")
	case cfg.Assembler == nil:
		return nil, errors.New("context assembler is required")
	case cfg.History == nil:
		return nil, errors.New("history store is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		gateway:    cfg.Gateway,
		registry:   cfg.Registry,
		dispatcher: cfg.Dispatcher,
		assembler:  cfg.Assembler,
		history:    cfg.History,
		log:        log,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer("github.com/pocketsage/pocketsage/internal/chat"),
		opts:       cfg.Options.withDefaults(),
	}, nil
}

// errClientGone signals that the event sink rejected an event because the
// client disconnected; forwarding stops but dispatched side effects stand.
var errClientGone = errors.New("client disconnected")

// toolExecution pairs one model-requested call with its outcome.
type toolExecution struct {
	Name      string
	Outcome   Outcome
	Duplicate bool
}

// turn is the private state of one Run invocation.
type turn struct {
	ctx      context.Context
	userID   string
	message  string
	emit     Sink
	state    state
	fallback bool

	system   string
	messages []llm.Message
	round1   *llm.Completion
	execs    []toolExecution
	full     strings.Builder
}

// Run executes one conversation turn, emitting the event sequence
// connected, chunk*, (complete|error) to emit. It never returns an error:
// every failure class is projected onto the event vocabulary.
func (o *Orchestrator) Run(ctx context.Context, userID, message string, emit Sink) {
	t := &turn{ctx: ctx, userID: userID, message: message, emit: emit, state: stateIdle}

	if err := emit(Connected()); err != nil {
		return
	}

	for t.state != stateCompleted && t.state != stateFailed {
		var err error
		switch t.state {
		case stateIdle:
			err = o.prepare(t)
		case stateAwaitingRound1:
			err = o.roundOne(t)
		case stateDispatchingTools:
			err = o.dispatchTools(t)
		case stateAwaitingRound2:
			err = o.roundTwo(t)
		case stateStreamingDirect:
			err = o.streamDirect(t)
		}
		if errors.Is(err, errClientGone) {
			o.log.Debug("client disconnected mid-turn", "user_id", userID)
			return
		}
	}

	switch {
	case t.state == stateFailed:
		o.metrics.IncRequest("failed")
	case t.fallback:
		o.metrics.IncRequest("fallback")
	default:
		o.metrics.IncRequest("completed")
	}
}

// prepare assembles the financial context and history window and builds the
// round-1 message list.
func (o *Orchestrator) prepare(t *turn) error {
	fc, err := o.assembler.Assemble(t.ctx, t.userID)
	if err != nil {
		o.log.Error("failed to assemble financial context", "user_id", t.userID, "error", err)
		return o.fail(t, "failed to prepare your financial context")
	}
	t.system = o.systemPrompt(fc)

	turns, err := o.history.Recent(t.ctx, t.userID, o.opts.HistoryWindow)
	if err != nil {
		// Missing history degrades grounding but is not fatal.
		o.log.Warn("failed to load conversation history", "user_id", t.userID, "error", err)
	}
	// Stored most-recent-first; replayed oldest-first.
	for i := len(turns) - 1; i >= 0; i-- {
		t.messages = append(t.messages,
			llm.Message{Role: "user", Content: turns[i].UserMessage},
			llm.Message{Role: "assistant", Content: turns[i].AIResponse},
		)
	}
	t.messages = append(t.messages, llm.Message{Role: "user", Content: t.message})

	t.state = stateAwaitingRound1
	return nil
}

// roundOne performs the buffered model round with the tool catalog attached.
// Unparsable tool arguments are retried once with a stricter instruction;
// if they are still unparsable the content is treated as a plain narrative.
func (o *Orchestrator) roundOne(t *turn) error {
	ctx, span := o.tracer.Start(t.ctx, "chat.round1")
	defer span.End()

	req := &llm.CompletionRequest{
		Model:     o.opts.Model,
		System:    t.system,
		Messages:  t.messages,
		Tools:     o.registry.Specs(),
		MaxTokens: o.opts.MaxTokens,
	}

	var completion *llm.Completion
	for attempt := 0; ; attempt++ {
		start := time.Now()
		resp, err := o.gateway.Complete(ctx, req)
		o.metrics.ObserveRound("round1", time.Since(start))
		if err != nil {
			span.RecordError(err)
			if llm.IsUnavailable(err) {
				o.log.Warn("model unavailable in round 1, using fallback", "error", err)
				return o.finishFallback(t)
			}
			o.log.Error("round 1 failed", "error", err)
			return o.fail(t, "the assistant failed to respond")
		}

		if !hasUnparsableCalls(resp) {
			completion = resp
			break
		}
		if attempt == 0 {
			o.log.Warn("model produced unparsable tool arguments, retrying once")
			req = &llm.CompletionRequest{
				Model:     o.opts.Model,
				System:    t.system + "\n\nTool call arguments must be valid JSON objects matching the declared parameter schema. If you cannot produce valid arguments, answer in plain text without calling tools.",
				Messages:  t.messages,
				Tools:     o.registry.Specs(),
				MaxTokens: o.opts.MaxTokens,
			}
			continue
		}
		// Still unparsable after the retry: treat the raw text as the answer.
		o.log.Warn("tool arguments unparsable after retry, treating content as narrative")
		completion = &llm.Completion{Content: resp.Content}
		break
	}

	t.round1 = completion
	if len(completion.ToolCalls) == 0 {
		t.state = stateStreamingDirect
	} else {
		t.state = stateDispatchingTools
	}
	return nil
}

// dispatchTools executes the round-1 tool calls strictly sequentially, in
// the order the model returned them: later calls may depend on the effects
// of earlier ones. Failures do not abort the batch. Exact duplicates within
// the round are not re-executed, and calls beyond the per-round cap fail
// without execution.
func (o *Orchestrator) dispatchTools(t *turn) error {
	_, span := o.tracer.Start(t.ctx, "chat.dispatch")
	defer span.End()

	// A financial mutation already handed to the dispatcher runs to
	// completion even if the client disconnects mid-stream.
	dispatchCtx := context.WithoutCancel(t.ctx)

	seen := make(map[string]Outcome)
	for i, call := range t.round1.ToolCalls {
		if i >= o.opts.MaxToolCalls {
			t.execs = append(t.execs, toolExecution{
				Name:    call.Name,
				Outcome: Outcome{Success: false, Message: "tool call limit reached; call not executed"},
			})
			continue
		}

		key := dedupKey(call)
		if prior, ok := seen[key]; ok {
			t.execs = append(t.execs, toolExecution{Name: call.Name, Outcome: prior, Duplicate: true})
			continue
		}

		outcome := o.dispatcher.Dispatch(dispatchCtx, call.Name, call.Arguments, t.userID)
		seen[key] = outcome
		t.execs = append(t.execs, toolExecution{Name: call.Name, Outcome: outcome})
	}

	t.state = stateAwaitingRound2
	return nil
}

// roundTwo streams the final narration grounded in the tool outcomes.
func (o *Orchestrator) roundTwo(t *turn) error {
	ctx, span := o.tracer.Start(t.ctx, "chat.round2")
	defer span.End()

	assistant := t.round1.Content
	if assistant == "" {
		assistant = "(requesting tools)"
	}
	messages := append(append([]llm.Message{}, t.messages...),
		llm.Message{Role: "assistant", Content: assistant},
		llm.Message{Role: "user", Content: outcomesMessage(t.execs)},
	)

	req := &llm.CompletionRequest{
		Model:     o.opts.Model,
		System:    t.system,
		Messages:  messages,
		MaxTokens: o.opts.MaxTokens,
	}

	start := time.Now()
	err := o.gateway.CompleteStream(ctx, req, func(fragment string) error {
		t.full.WriteString(fragment)
		if err := t.emit(Chunk(fragment)); err != nil {
			return errClientGone
		}
		o.metrics.IncChunks(1)
		return nil
	})
	o.metrics.ObserveRound("round2", time.Since(start))

	if errors.Is(err, errClientGone) {
		return errClientGone
	}
	if err != nil {
		span.RecordError(err)
		if t.full.Len() == 0 && llm.IsUnavailable(err) {
			o.log.Warn("model unavailable in round 2, using fallback", "error", err)
			return o.finishFallback(t)
		}
		// Chunks already sent are never retracted; the turn fails.
		o.log.Error("round 2 stream failed", "emitted_bytes", t.full.Len(), "error", err)
		return o.fail(t, "the response stream was interrupted")
	}

	return o.finish(t)
}

// streamDirect replays a tool-free round-1 answer as a fabricated stream so
// the transport contract is uniform whether or not a second round occurred.
// The streaming endpoint is not invoked.
func (o *Orchestrator) streamDirect(t *turn) error {
	content := t.round1.Content
	if content == "" {
		return o.finishFallback(t)
	}
	if err := o.fabricateStream(t, content); err != nil {
		return err
	}
	return o.finish(t)
}

// finishFallback streams the scripted apology through the fabrication path
// and completes the turn; unavailability never surfaces as an error event.
func (o *Orchestrator) finishFallback(t *turn) error {
	t.fallback = true
	if err := o.fabricateStream(t, fallbackMessage); err != nil {
		return err
	}
	return o.finish(t)
}

// fabricateStream replays buffered text as fixed-size fragments with a small
// artificial delay between them.
func (o *Orchestrator) fabricateStream(t *turn, text string) error {
	runes := []rune(text)
	for start := 0; start < len(runes); start += o.opts.ChunkSize {
		end := start + o.opts.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		fragment := string(runes[start:end])
		t.full.WriteString(fragment)
		if err := t.emit(Chunk(fragment)); err != nil {
			return errClientGone
		}
		o.metrics.IncChunks(1)

		if end < len(runes) {
			select {
			case <-t.ctx.Done():
				return errClientGone
			case <-time.After(o.opts.ChunkDelay):
			}
		}
	}
	return nil
}

// finish persists the completed turn and emits the terminating complete
// event. Persistence happens first: a complete event guarantees the turn is
// durably recorded.
func (o *Orchestrator) finish(t *turn) error {
	full := t.full.String()
	turnRecord := models.ConversationTurn{
		UserID:      t.userID,
		UserMessage: t.message,
		AIResponse:  full,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.history.Append(context.WithoutCancel(t.ctx), t.userID, turnRecord); err != nil {
		o.log.Error("failed to persist conversation turn", "user_id", t.userID, "error", err)
		return o.fail(t, "failed to save the conversation")
	}

	t.state = stateCompleted
	if err := t.emit(Complete(full, time.Now())); err != nil {
		return errClientGone
	}
	return nil
}

// fail emits the single error terminator. Only faults that cannot be
// converted into narrative content reach this path.
func (o *Orchestrator) fail(t *turn, message string) error {
	t.state = stateFailed
	if err := t.emit(Failure(message)); err != nil {
		return errClientGone
	}
	return nil
}

func (o *Orchestrator) systemPrompt(fc *FinancialContext) string {
	var b strings.Builder
	b.WriteString("You are PocketSage, a personal finance assistant. ")
	b.WriteString("You help the user track transactions, categories and budgets.\n\n")
	b.WriteString("Current snapshot of the user's finances:\n")
	b.WriteString(fc.Summary())
	b.WriteString("\nWhen the user asks you to record or change data, call the appropriate tools. ")
	b.WriteString("When the user only asks a question, answer directly from the snapshot above. ")
	b.WriteString("Amounts in the snapshot are authoritative; do not invent figures. ")
	b.WriteString("Be concise and state amounts in dollars.")
	return b.String()
}

// hasUnparsableCalls reports whether any tool call carries arguments that
// cannot be decoded as a JSON object.
func hasUnparsableCalls(c *llm.Completion) bool {
	for _, call := range c.ToolCalls {
		if _, err := decodeArguments(call.Arguments); err != nil {
			return true
		}
	}
	return false
}

// dedupKey canonicalizes a call for duplicate detection within one round.
// Decoding and re-encoding normalizes key order and whitespace.
func dedupKey(call llm.ToolCall) string {
	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return call.Name + "\x00" + string(call.Arguments)
	}
	canonical, err := json.Marshal(args)
	if err != nil {
		return call.Name + "\x00" + string(call.Arguments)
	}
	return call.Name + "\x00" + string(canonical)
}

// outcomesMessage synthesizes the user-role message for round 2,
// enumerating each tool's name, success flag, summary and data.
func outcomesMessage(execs []toolExecution) string {
	var b strings.Builder
	b.WriteString("Tool execution results:\n")
	for i, e := range execs {
		status := "SUCCESS"
		if !e.Outcome.Success {
			status = "FAILED"
		}
		fmt.Fprintf(&b, "%d. %s: %s: %s", i+1, e.Name, status, e.Outcome.Message)
		if e.Outcome.Data != nil {
			if data, err := json.Marshal(e.Outcome.Data); err == nil {
				fmt.Fprintf(&b, " (data: %s)", data)
			}
		}
		if e.Duplicate {
			b.WriteString(" [duplicate of an earlier call; executed once]")
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nUsing these results, write the final answer to the user's request. ")
	b.WriteString("If any tool failed, say so plainly and explain what did succeed.")
	return b.String()
}
