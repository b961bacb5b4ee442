package jrpc

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/go-json-experiment/json/jsontext"
)

type sumParams struct {
	A int `json:"a"`
	B int `json:"b"`
	C int `json:"c,omitempty"`
}

// SumForTest is registered under its own name in the derivation test.
func SumForTest(ctx context.Context, p sumParams) (int, error) {
	return p.A + p.B + p.C, nil
}

func callMethod(t *testing.T, m *Method, params string) (any, error) {
	t.Helper()
	req := &Request{Method: m.Name(), Extra: map[string]any{}}
	if params != "" {
		req.Params = jsontext.Value(params)
	}
	return m.call(context.Background(), req, Codec{})
}

func TestMethodNameDerivation(t *testing.T) {
	m, err := NewMethod(SumForTest)
	if err != nil {
		t.Fatalf("NewMethod: %v", err)
	}
	if m.Name() != "SumForTest" {
		t.Errorf("derived name = %q", m.Name())
	}

	m, err = NewMethod(SumForTest, WithName("sum"), WithNamespace("math"))
	if err != nil {
		t.Fatalf("NewMethod: %v", err)
	}
	if m.Name() != "math__sum" {
		t.Errorf("namespaced name = %q", m.Name())
	}

	// Anonymous functions have no usable symbol name.
	if _, err := NewMethod(func(ctx context.Context) error { return nil }); err == nil {
		t.Error("expected error for unnamed closure")
	}
}

func TestMethodSignatureValidation(t *testing.T) {
	bad := []any{
		42,
		func() error { return nil },
		func(ctx context.Context) {},
		func(ctx context.Context, a, b, c int) error { return nil },
		func(ctx context.Context, p sumParams) (int, int) { return 0, 0 },
		func(ctx context.Context, n int) error { return nil },
		func(ctx context.Context, args []any, kwargs map[string]int) error { return nil },
	}
	for i, fn := range bad {
		if _, err := NewMethod(fn, WithName("bad")); err == nil {
			t.Errorf("case %d: expected signature error", i)
		}
	}
}

func TestStructBindingPositional(t *testing.T) {
	m := MustMethod(SumForTest, WithName("sum"))
	result, err := callMethod(t, m, `[2,3,4]`)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != 9 {
		t.Errorf("result = %v", result)
	}

	_, err = callMethod(t, m, `[2]`)
	var e *Error
	if !errors.As(err, &e) || e.Code != CodeInvalidParams {
		t.Errorf("arity mismatch: %v", err)
	}

	_, err = callMethod(t, m, `[2,"x",0]`)
	if !errors.As(err, &e) || e.Code != CodeInvalidParams {
		t.Errorf("type mismatch: %v", err)
	}
}

func TestStructBindingNamed(t *testing.T) {
	m := MustMethod(SumForTest, WithName("sum"))
	result, err := callMethod(t, m, `{"a":2,"b":3}`)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != 5 {
		t.Errorf("result = %v", result)
	}

	_, err = callMethod(t, m, `{"a":2}`)
	var e *Error
	if !errors.As(err, &e) || e.Code != CodeInvalidParams {
		t.Fatalf("missing required param: %v", err)
	}
	if e.Data == nil || !strings.Contains(e.Data.(string), "b") {
		t.Errorf("error should name the missing param: %+v", e)
	}
}

func TestScalarParamsBindPositionally(t *testing.T) {
	double := func(ctx context.Context, p struct {
		N int `json:"n"`
	}) (int, error) {
		return p.N * 2, nil
	}
	m := MustMethod(double, WithName("double"))
	result, err := callMethod(t, m, `21`)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %v", result)
	}
}

func TestDynamicBinding(t *testing.T) {
	echo := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return map[string]any{"args": args, "kwargs": kwargs}, nil
	}
	m := MustMethod(echo, WithName("echo"))

	result, err := callMethod(t, m, `[1,2]`)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	got := result.(map[string]any)
	if len(got["args"].([]any)) != 2 || len(got["kwargs"].(map[string]any)) != 0 {
		t.Errorf("positional echo: %#v", got)
	}

	result, err = callMethod(t, m, `{"x":1}`)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	got = result.(map[string]any)
	if len(got["args"].([]any)) != 0 || len(got["kwargs"].(map[string]any)) != 1 {
		t.Errorf("named echo: %#v", got)
	}

	result, err = callMethod(t, m, "")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	got = result.(map[string]any)
	if len(got["args"].([]any)) != 0 || len(got["kwargs"].(map[string]any)) != 0 {
		t.Errorf("absent params echo: %#v", got)
	}
}

func TestNoParamsMethodRejectsParams(t *testing.T) {
	ping := func(ctx context.Context) (string, error) { return "pong", nil }
	m := MustMethod(ping, WithName("ping"))

	if result, err := callMethod(t, m, ""); err != nil || result != "pong" {
		t.Errorf("ping: %v %v", result, err)
	}
	_, err := callMethod(t, m, `[1]`)
	var e *Error
	if !errors.As(err, &e) || e.Code != CodeInvalidParams {
		t.Errorf("params to no-params method: %v", err)
	}
}

func TestRequestInjection(t *testing.T) {
	fn := func(ctx context.Context, req *Request, p struct {
		N int `json:"n"`
	}) (any, error) {
		return []any{req.Method, req.Extra["who"], p.N}, nil
	}
	m := MustMethod(fn, WithName("who"))
	req := &Request{Method: "who", Params: jsontext.Value(`{"n":3}`), Extra: map[string]any{"who": "me"}}
	result, err := m.call(context.Background(), req, Codec{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	want := []any{"who", "me", 3}
	if !reflect.DeepEqual(result, want) {
		t.Errorf("result = %#v, want %#v", result, want)
	}
}

func TestExtraArgsMerge(t *testing.T) {
	echo := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return kwargs, nil
	}
	m := MustMethod(echo, WithName("echo"))

	req := &Request{
		Method:     "echo",
		Params:     jsontext.Value(`{"x":1}`),
		Extra:      map[string]any{"user": "u1", "x": "shadowed"},
		mergeExtra: true,
	}
	result, err := m.call(context.Background(), req, Codec{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	kwargs := result.(map[string]any)
	if kwargs["user"] != "u1" {
		t.Errorf("extra arg not merged: %#v", kwargs)
	}
	if kwargs["x"] == "shadowed" {
		t.Error("request params must win over extra args")
	}

	// Without the merge flag Extra stays out of the kwargs.
	req.mergeExtra = false
	result, err = m.call(context.Background(), req, Codec{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, ok := result.(map[string]any)["user"]; ok {
		t.Error("extra arg merged without the flag")
	}
}

func TestExtraArgsFillStructParams(t *testing.T) {
	fn := func(ctx context.Context, p struct {
		Caller string `json:"caller"`
		N      int    `json:"n"`
	}) (string, error) {
		return p.Caller, nil
	}
	m := MustMethod(fn, WithName("whoami"))
	req := &Request{
		Method:     "whoami",
		Params:     jsontext.Value(`{"n":1}`),
		Extra:      map[string]any{"caller": "alice"},
		mergeExtra: true,
	}
	result, err := m.call(context.Background(), req, Codec{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != "alice" {
		t.Errorf("result = %v", result)
	}
}

func TestPrepareResult(t *testing.T) {
	ping := func(ctx context.Context) (string, error) { return "pong", nil }
	m := MustMethod(ping, WithName("ping"), WithPrepareResult(func(v any) (any, error) {
		return strings.ToUpper(v.(string)), nil
	}))
	result, err := callMethod(t, m, "")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != "PONG" {
		t.Errorf("result = %v", result)
	}
}

func TestMethodInfo(t *testing.T) {
	m := MustMethod(SumForTest, WithName("sum"), WithDoc("Add numbers."))
	info := m.Info()
	if info.Doc != "Add numbers." {
		t.Errorf("doc = %q", info.Doc)
	}
	if !reflect.DeepEqual(info.Args, []string{"a", "b", "c"}) {
		t.Errorf("args = %v", info.Args)
	}
	if info.Variadic {
		t.Error("struct method reported variadic")
	}
}
