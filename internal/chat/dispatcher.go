package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pocketsage/pocketsage/internal/finance"
	"github.com/pocketsage/pocketsage/internal/observability"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Outcome is the uniform result of executing one tool call. Every dispatch
// produces exactly one, whether the call was unknown, schema-invalid,
// rejected by a business rule, or successful. Outcomes are immutable once
// produced and are fed verbatim back to the model.
type Outcome struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
}

// Dispatcher validates model-produced tool calls against the registry and
// executes them against the domain facade. It is the one place faults from
// the facade are guaranteed not to propagate: every path returns an Outcome.
type Dispatcher struct {
	registry *Registry
	log      *slog.Logger
	metrics  *observability.Metrics
}

// NewDispatcher builds a dispatcher over the given registry.
func NewDispatcher(registry *Registry, log *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{registry: registry, log: log, metrics: metrics}
}

// Dispatch executes one tool call scoped to userID. The raw argument payload
// comes from the model and crosses a trust boundary: it is re-validated
// against the registry schema before the facade is touched.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, rawArgs json.RawMessage, userID string) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("tool handler panicked", "tool", name, "panic", r)
			outcome = Outcome{Success: false, Message: fmt.Sprintf("tool %s failed unexpectedly", name)}
		}
		d.metrics.IncDispatch(name, outcome.Success)
	}()

	tool, ok := d.registry.Get(name)
	if !ok {
		return Outcome{Success: false, Message: fmt.Sprintf("unknown tool: %s", name)}
	}

	args, err := decodeArguments(rawArgs)
	if err != nil {
		return Outcome{Success: false, Message: fmt.Sprintf("arguments for %s are not a JSON object", name)}
	}

	schema, _ := d.registry.compiledSchema(name)
	if err := schema.Validate(args); err != nil {
		return Outcome{Success: false, Message: validationMessage(name, err)}
	}

	// Update-style tools must carry at least one recognized mutable field;
	// a semantically empty mutation is rejected before the facade is called.
	if len(tool.MutableFields) > 0 && !hasAnyField(args, tool.MutableFields) {
		return Outcome{
			Success: false,
			Message: fmt.Sprintf("no updatable field provided for %s; updatable fields are: %s",
				name, strings.Join(tool.MutableFields, ", ")),
		}
	}

	data, err := tool.Handler(ctx, userID, args)
	if err != nil {
		if finance.IsDomain(err) {
			return Outcome{Success: false, Message: err.Error()}
		}
		d.log.Error("tool execution failed", "tool", name, "user_id", userID, "error", err)
		return Outcome{Success: false, Message: fmt.Sprintf("tool %s failed unexpectedly", name)}
	}

	return Outcome{
		Success: true,
		Data:    data,
		Message: fmt.Sprintf("%s completed", name),
	}
}

// decodeArguments parses the raw payload into an argument object. A missing
// or empty payload is treated as an empty object so that required-field
// validation produces the field-specific message rather than a parse error.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func hasAnyField(args map[string]any, fields []string) bool {
	for _, f := range fields {
		if _, ok := args[f]; ok {
			return true
		}
	}
	return false
}

// validationMessage flattens a schema validation failure into a
// field-specific, human-readable reason.
func validationMessage(tool string, err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fmt.Sprintf("invalid arguments for %s: %v", tool, err)
	}
	leaves := leafCauses(ve)
	reasons := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		field := strings.TrimPrefix(leaf.InstanceLocation, "/")
		if field == "" {
			reasons = append(reasons, leaf.Message)
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", field, leaf.Message))
	}
	sort.Strings(reasons)
	return fmt.Sprintf("invalid arguments for %s: %s", tool, strings.Join(reasons, "; "))
}

func leafCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, cause := range ve.Causes {
		out = append(out, leafCauses(cause)...)
	}
	return out
}
