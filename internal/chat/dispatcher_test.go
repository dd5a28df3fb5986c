package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/pocketsage/pocketsage/internal/finance"
)

func newTestDispatcher(t *testing.T, tools ...Tool) *Dispatcher {
	t.Helper()
	registry, err := NewRegistry(tools...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return NewDispatcher(registry, slog.New(slog.DiscardHandler), nil)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newTestDispatcher(t, NewCatalog(&fakeFinance{})...)
	out := d.Dispatch(context.Background(), "launch_rocket", json.RawMessage(`{}`), "u1")
	if out.Success {
		t.Fatal("unknown tool must fail")
	}
	if !strings.Contains(out.Message, "unknown tool") {
		t.Errorf("message = %q", out.Message)
	}
}

func TestDispatchValidation(t *testing.T) {
	d := newTestDispatcher(t, NewCatalog(&fakeFinance{})...)

	tests := []struct {
		name string
		tool string
		args string
		want string
	}{
		{
			name: "missing required field",
			tool: "add_transaction",
			args: `{"amount": 5, "category_id": "cat-1"}`,
			want: "description",
		},
		{
			name: "wrong type",
			tool: "add_transaction",
			args: `{"description": "coffee", "amount": "five", "category_id": "cat-1"}`,
			want: "amount",
		},
		{
			name: "enum violation",
			tool: "create_budget",
			args: `{"name": "food", "category_id": "cat-1", "amount_limit": 100, "period": "daily"}`,
			want: "period",
		},
		{
			name: "empty payload lists required fields",
			tool: "add_transaction",
			args: ``,
			want: "description",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := d.Dispatch(context.Background(), tc.tool, json.RawMessage(tc.args), "u1")
			if out.Success {
				t.Fatal("invalid arguments must fail")
			}
			if !strings.Contains(out.Message, tc.want) {
				t.Errorf("message %q does not name the offending field %q", out.Message, tc.want)
			}
		})
	}
}

func TestDispatchRejectsEmptyUpdate(t *testing.T) {
	svc := &fakeFinance{}
	d := newTestDispatcher(t, NewCatalog(svc)...)

	out := d.Dispatch(context.Background(), "update_budget", json.RawMessage(`{"budget_name": "food"}`), "u1")
	if out.Success {
		t.Fatal("update without mutable fields must fail")
	}
	if !strings.Contains(out.Message, "no updatable field") || !strings.Contains(out.Message, "amount_limit") {
		t.Errorf("message = %q", out.Message)
	}
	for _, c := range svc.callLog() {
		if c == "UpdateBudget" {
			t.Error("empty update must be rejected before the facade is called")
		}
	}
}

func TestDispatchDomainErrorBecomesOutcome(t *testing.T) {
	tool := Tool{
		Descriptor: Descriptor{
			Name:        "create_category",
			Description: "test",
			Params:      []Param{{Name: "name", Type: TypeString, Required: true}},
		},
		Handler: func(context.Context, string, map[string]any) (any, error) {
			return nil, finance.NewDomainError("category already exists")
		},
	}
	d := newTestDispatcher(t, tool)

	out := d.Dispatch(context.Background(), "create_category", json.RawMessage(`{"name": "Food"}`), "u1")
	if out.Success {
		t.Fatal("domain error must fail the outcome")
	}
	if out.Message != "category already exists" {
		t.Errorf("domain message must pass through verbatim, got %q", out.Message)
	}
}

func TestDispatchUnexpectedErrorIsGeneric(t *testing.T) {
	tool := Tool{
		Descriptor: Descriptor{Name: "boom", Description: "test"},
		Handler: func(context.Context, string, map[string]any) (any, error) {
			return nil, errors.New("pq: connection lost on shard 7")
		},
	}
	d := newTestDispatcher(t, tool)

	out := d.Dispatch(context.Background(), "boom", json.RawMessage(`{}`), "u1")
	if out.Success {
		t.Fatal("handler error must fail")
	}
	if strings.Contains(out.Message, "shard") {
		t.Errorf("internal detail leaked into the model-facing message: %q", out.Message)
	}
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	tool := Tool{
		Descriptor: Descriptor{Name: "panics", Description: "test"},
		Handler: func(context.Context, string, map[string]any) (any, error) {
			panic("nil map write")
		},
	}
	d := newTestDispatcher(t, tool)

	out := d.Dispatch(context.Background(), "panics", json.RawMessage(`{}`), "u1")
	if out.Success {
		t.Fatal("panicking handler must produce a failed outcome")
	}
	if !strings.Contains(out.Message, "panics") {
		t.Errorf("message = %q", out.Message)
	}
}

func TestDispatchSuccess(t *testing.T) {
	svc := &fakeFinance{}
	d := newTestDispatcher(t, NewCatalog(svc)...)

	out := d.Dispatch(context.Background(), "add_transaction",
		json.RawMessage(`{"description": "coffee", "amount": 4.5, "category_id": "cat-1"}`), "u1")
	if !out.Success {
		t.Fatalf("dispatch failed: %s", out.Message)
	}
	data, ok := out.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want map", out.Data)
	}
	if data["amount"] != "$4.50" {
		t.Errorf("amount = %v, want dollars-and-cents rendering", data["amount"])
	}
}
