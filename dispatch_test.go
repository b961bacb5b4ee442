package jrpc

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func newTestDispatcher(t *testing.T, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	err := reg.AddMany([]*Method{
		MustMethod(func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return map[string]any{"args": args, "kwargs": kwargs}, nil
		}, WithName("echo")),
		MustMethod(func(ctx context.Context) (string, error) {
			return "pong", nil
		}, WithName("ping")),
		MustMethod(SumForTest, WithName("sum")),
		MustMethod(func(ctx context.Context) error {
			return errors.New("always fails")
		}, WithName("fail")),
	}, false)
	if err != nil {
		t.Fatalf("AddMany: %v", err)
	}
	opts = append([]DispatcherOption{WithMiddleware(Recover())}, opts...)
	return NewDispatcher(reg, opts...)
}

func handle(t *testing.T, d *Dispatcher, payload string) any {
	t.Helper()
	out := d.Handle(context.Background(), []byte(payload), nil)
	if out == nil {
		return nil
	}
	return decodeTree(t, out)
}

func TestHandleSingleCallEchoesID(t *testing.T) {
	d := newTestDispatcher(t)
	got := handle(t, d, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	want := map[string]any{"jsonrpc": "2.0", "id": float64(7), "result": "pong"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestHandleEchoScenario(t *testing.T) {
	d := newTestDispatcher(t)
	got := handle(t, d, `{"jsonrpc":"2.0","id":1,"method":"echo","params":[1,2]}`)
	result := got.(map[string]any)["result"].(map[string]any)
	if !reflect.DeepEqual(result["args"], []any{float64(1), float64(2)}) {
		t.Errorf("args = %#v", result["args"])
	}
	if len(result["kwargs"].(map[string]any)) != 0 {
		t.Errorf("kwargs = %#v", result["kwargs"])
	}
}

func TestHandleNotificationProducesNothing(t *testing.T) {
	d := newTestDispatcher(t)
	if out := handle(t, d, `{"jsonrpc":"2.0","method":"ping"}`); out != nil {
		t.Errorf("notification produced output: %#v", out)
	}
	// Even when the method fails.
	if out := handle(t, d, `{"jsonrpc":"2.0","method":"fail"}`); out != nil {
		t.Errorf("failing notification produced output: %#v", out)
	}
	// Even when the method does not exist.
	if out := handle(t, d, `{"jsonrpc":"2.0","method":"missing_method"}`); out != nil {
		t.Errorf("unknown-method notification produced output: %#v", out)
	}
}

func TestHandleMixedBatchScenario(t *testing.T) {
	d := newTestDispatcher(t)
	got := handle(t, d, `[
		{"jsonrpc":"2.0","id":1,"method":"echo","params":[2]},
		{"jsonrpc":"2.0","id":2,"method":"missing_method"},
		{"jsonrpc":"2.0","id":3,"method":"ping"}
	]`)
	slots := got.([]any)
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}

	first := slots[0].(map[string]any)
	result := first["result"].(map[string]any)
	if !reflect.DeepEqual(result["args"], []any{float64(2)}) {
		t.Errorf("slot 0: %#v", first)
	}

	second := slots[1].(map[string]any)
	if second["error"].(map[string]any)["code"] != float64(CodeMethodNotFound) {
		t.Errorf("slot 1: %#v", second)
	}
	if second["id"] != float64(2) {
		t.Errorf("slot 1 id: %#v", second["id"])
	}

	third := slots[2].(map[string]any)
	if third["result"] != "pong" {
		t.Errorf("slot 2: %#v", third)
	}
}

func TestHandleBatchSkipsNotificationSlots(t *testing.T) {
	d := newTestDispatcher(t)
	got := handle(t, d, `[
		{"jsonrpc":"2.0","method":"ping"},
		{"jsonrpc":"2.0","id":"a","method":"ping"},
		{"jsonrpc":"2.0","method":"fail"},
		{"jsonrpc":"2.0","id":"b","method":"ping"}
	]`)
	slots := got.([]any)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d: %#v", len(slots), slots)
	}
	// Relative order of the non-notification slots is preserved.
	if slots[0].(map[string]any)["id"] != "a" || slots[1].(map[string]any)["id"] != "b" {
		t.Errorf("slot order: %#v", slots)
	}
}

func TestHandleAllNotificationBatch(t *testing.T) {
	d := newTestDispatcher(t)
	out := d.Handle(context.Background(), []byte(`[
		{"jsonrpc":"2.0","method":"ping"},
		{"jsonrpc":"2.0","method":"fail"}
	]`), nil)
	if out != nil {
		t.Errorf("all-notification batch produced output: %s", out)
	}
}

func TestHandleParseError(t *testing.T) {
	d := newTestDispatcher(t)
	got := handle(t, d, `{"jsonrpc":`).(map[string]any)
	if got["error"].(map[string]any)["code"] != float64(CodeParseError) {
		t.Errorf("parse error: %#v", got)
	}
	if got["id"] != nil {
		t.Errorf("parse error id: %#v", got["id"])
	}
}

func TestHandleEmptyBatch(t *testing.T) {
	d := newTestDispatcher(t)
	got := handle(t, d, `[]`).(map[string]any)
	if got["error"].(map[string]any)["code"] != float64(CodeInvalidRequest) {
		t.Errorf("empty batch: %#v", got)
	}
}

func TestHandleInvalidSlotIsIsolated(t *testing.T) {
	d := newTestDispatcher(t)
	got := handle(t, d, `[42, {"jsonrpc":"2.0","id":1,"method":"ping"}]`)
	slots := got.([]any)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	bad := slots[0].(map[string]any)
	if bad["error"].(map[string]any)["code"] != float64(CodeInvalidRequest) || bad["id"] != nil {
		t.Errorf("invalid slot: %#v", bad)
	}
	if slots[1].(map[string]any)["result"] != "pong" {
		t.Errorf("valid slot not processed: %#v", slots[1])
	}
}

func TestHandleVersionMismatch(t *testing.T) {
	d := newTestDispatcher(t)
	got := handle(t, d, `{"jsonrpc":"1.0","id":5,"method":"ping"}`).(map[string]any)
	if got["error"].(map[string]any)["code"] != float64(CodeInvalidRequest) {
		t.Errorf("version mismatch: %#v", got)
	}
	if got["id"] != float64(5) {
		t.Errorf("recoverable id not echoed: %#v", got["id"])
	}
}

func TestHandleInvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	got := handle(t, d, `{"jsonrpc":"2.0","id":1,"method":"sum","params":{"a":1}}`).(map[string]any)
	if got["error"].(map[string]any)["code"] != float64(CodeInvalidParams) {
		t.Errorf("invalid params: %#v", got)
	}
}

func TestHandleSeedsExtra(t *testing.T) {
	reg := NewRegistry()
	reg.Add(MustMethod(func(ctx context.Context, req *Request) (any, error) {
		return req.Extra["tenant"], nil
	}, WithName("tenant")), false)
	d := NewDispatcher(reg)

	out := d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tenant"}`),
		map[string]any{"tenant": "t-9"})
	got := decodeTree(t, out).(map[string]any)
	if got["result"] != "t-9" {
		t.Errorf("extra not seeded: %#v", got)
	}
}
