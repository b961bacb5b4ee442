package jrpc

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/go-json-experiment/json/jsontext"
)

// NamespaceSep joins a namespace prefix to a method name.
const NamespaceSep = "__"

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	requestType = reflect.TypeOf((*Request)(nil))
	argsType    = reflect.TypeOf([]any(nil))
	kwargsType  = reflect.TypeOf(map[string]any(nil))
)

// Method is a registered method descriptor. All signature inspection
// happens once, at construction; dispatch only executes the prepared
// binding plan.
type Method struct {
	name string
	doc  string
	fn   reflect.Value

	wantsRequest bool // *Request injected after ctx
	dynamic      bool // (args []any, kwargs map[string]any) target
	paramType    reflect.Type
	paramPtr     bool // params target declared as *T
	fields       []paramField
	hasResult    bool
	prepare      func(any) (any, error)
}

// paramField is one bindable field of a struct params target, in
// declaration order.
type paramField struct {
	name     string
	index    int
	required bool
}

// MethodOption configures a method descriptor at construction.
type MethodOption func(*Method)

// WithName overrides the name derived from the function itself.
func WithName(name string) MethodOption {
	return func(m *Method) { m.name = name }
}

// WithNamespace prefixes the method name, joined with NamespaceSep.
func WithNamespace(ns string) MethodOption {
	return func(m *Method) {
		if ns != "" {
			m.name = ns + NamespaceSep + m.name
		}
	}
}

// WithDoc attaches a doc string, surfaced by introspection.
func WithDoc(doc string) MethodOption {
	return func(m *Method) { m.doc = doc }
}

// WithPrepareResult post-processes the raw return value before it
// becomes the response result.
func WithPrepareResult(f func(any) (any, error)) MethodOption {
	return func(m *Method) { m.prepare = f }
}

// NewMethod builds a method descriptor from a function. Accepted
// shapes, where the params target is either a struct (by value or
// pointer) or the dynamic pair (args []any, kwargs map[string]any):
//
//	func(ctx context.Context) error
//	func(ctx context.Context) (R, error)
//	func(ctx context.Context, params P) (R, error)
//	func(ctx context.Context, req *Request) (R, error)
//	func(ctx context.Context, req *Request, params P) (R, error)
//	func(ctx context.Context, args []any, kwargs map[string]any) (R, error)
//
// Positional params bind to struct fields in declaration order, named
// params by json tag. Fields without an omitempty/omitzero tag option
// are required.
func NewMethod(fn any, opts ...MethodOption) (*Method, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, fmt.Errorf("jrpc: method must be a function, got %T", fn)
	}
	t := v.Type()

	m := &Method{fn: v}

	if t.NumIn() < 1 || !t.In(0).Implements(contextType) {
		return nil, fmt.Errorf("jrpc: method must take context.Context first")
	}
	idx := 1
	if idx < t.NumIn() && t.In(idx) == requestType {
		m.wantsRequest = true
		idx++
	}
	switch t.NumIn() - idx {
	case 0:
	case 1:
		pt := t.In(idx)
		if pt.Kind() == reflect.Ptr {
			m.paramPtr = true
			pt = pt.Elem()
		}
		if pt.Kind() != reflect.Struct {
			return nil, fmt.Errorf("jrpc: params target must be a struct, got %s", t.In(idx))
		}
		m.paramType = pt
		m.fields = structFields(pt)
	case 2:
		if t.In(idx) != argsType || t.In(idx+1) != kwargsType {
			return nil, fmt.Errorf("jrpc: dynamic target must be ([]any, map[string]any)")
		}
		m.dynamic = true
	default:
		return nil, fmt.Errorf("jrpc: too many parameters")
	}

	switch t.NumOut() {
	case 1:
		if !t.Out(0).Implements(errorType) {
			return nil, fmt.Errorf("jrpc: last return value must be error")
		}
	case 2:
		if !t.Out(1).Implements(errorType) {
			return nil, fmt.Errorf("jrpc: last return value must be error")
		}
		m.hasResult = true
	default:
		return nil, fmt.Errorf("jrpc: method must return error or (result, error)")
	}

	m.name = funcName(fn)
	for _, opt := range opts {
		opt(m)
	}
	if m.name == "" {
		return nil, fmt.Errorf("jrpc: method needs a name, use WithName")
	}
	return m, nil
}

// MustMethod is NewMethod that panics on a bad signature. Intended for
// setup-time registration of literal functions.
func MustMethod(fn any, opts ...MethodOption) *Method {
	m, err := NewMethod(fn, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Name returns the registry key for this method.
func (m *Method) Name() string { return m.name }

// Doc returns the doc string attached at construction.
func (m *Method) Doc() string { return m.doc }

// Info describes the method for introspection: argument names in
// positional order and the keyword names the method accepts.
func (m *Method) Info() MethodInfo {
	info := MethodInfo{Doc: m.doc, Args: []string{}, Kwargs: []string{}, Variadic: m.dynamic}
	for _, f := range m.fields {
		info.Args = append(info.Args, f.name)
		info.Kwargs = append(info.Kwargs, f.name)
	}
	return info
}

// MethodInfo is the introspection record returned by get_methods.
type MethodInfo struct {
	Doc      string   `json:"doc,omitzero"`
	Args     []string `json:"args"`
	Kwargs   []string `json:"kwargs"`
	Variadic bool     `json:"variadic,omitzero"`
}

// call binds the request params and invokes the function. Binding
// failures come back as *Error with code -32602.
func (m *Method) call(ctx context.Context, req *Request, codec Codec) (any, error) {
	pos, named, err := splitRawParams(req.Params, codec)
	if err != nil {
		return nil, err
	}

	var extra map[string]any
	if req.mergeExtra && len(req.Extra) > 0 {
		extra = req.Extra
	}

	in := make([]reflect.Value, 0, 4)
	in = append(in, reflect.ValueOf(ctx))
	if m.wantsRequest {
		in = append(in, reflect.ValueOf(req))
	}

	switch {
	case m.dynamic:
		args, kwargs, err := m.bindDynamic(pos, named, extra, codec)
		if err != nil {
			return nil, err
		}
		in = append(in, reflect.ValueOf(args), reflect.ValueOf(kwargs))
	case m.paramType != nil:
		pv, err := m.bindStruct(pos, named, extra, codec)
		if err != nil {
			return nil, err
		}
		if m.paramPtr {
			in = append(in, pv)
		} else {
			in = append(in, pv.Elem())
		}
	default:
		if len(pos) > 0 || named != nil {
			return nil, ErrInvalidParams(m.name + " takes no params")
		}
	}

	out := m.fn.Call(in)
	if ev := out[len(out)-1].Interface(); ev != nil {
		return nil, ev.(error)
	}
	var result any
	if m.hasResult {
		result = out[0].Interface()
	}
	if m.prepare != nil {
		return m.prepare(result)
	}
	return result, nil
}

func (m *Method) bindDynamic(pos []jsontext.Value, named map[string]jsontext.Value,
	extra map[string]any, codec Codec) ([]any, map[string]any, error) {
	args := make([]any, 0, len(pos))
	for _, raw := range pos {
		var v any
		if err := codec.unmarshal(raw, &v); err != nil {
			return nil, nil, ErrInvalidParams(err.Error())
		}
		args = append(args, v)
	}
	kwargs := make(map[string]any, len(named)+len(extra))
	for k, raw := range named {
		var v any
		if err := codec.unmarshal(raw, &v); err != nil {
			return nil, nil, ErrInvalidParams(err.Error())
		}
		kwargs[k] = v
	}
	for k, v := range extra {
		if _, ok := kwargs[k]; !ok {
			kwargs[k] = v
		}
	}
	return args, kwargs, nil
}

func (m *Method) bindStruct(pos []jsontext.Value, named map[string]jsontext.Value,
	extra map[string]any, codec Codec) (reflect.Value, error) {
	pv := reflect.New(m.paramType)

	if pos != nil {
		if len(pos) != len(m.fields) {
			return pv, ErrInvalidParams(fmt.Sprintf("%s takes %d positional params, got %d",
				m.name, len(m.fields), len(pos)))
		}
		for i, raw := range pos {
			field := pv.Elem().Field(m.fields[i].index)
			if err := codec.unmarshal(raw, field.Addr().Interface()); err != nil {
				return pv, ErrInvalidParams(fmt.Sprintf("param %q: %v", m.fields[i].name, err))
			}
		}
		return pv, nil
	}

	// Named (or absent) params, with extra-args merged in for fields
	// the request did not set itself.
	for _, f := range m.fields {
		raw, ok := named[f.name]
		if !ok {
			if ev, found := extra[f.name]; found {
				field := pv.Elem().Field(f.index)
				rv := reflect.ValueOf(ev)
				if !rv.IsValid() || !rv.Type().AssignableTo(field.Type()) {
					return pv, ErrInvalidParams(fmt.Sprintf("extra arg %q does not fit param type", f.name))
				}
				field.Set(rv)
				continue
			}
			if f.required {
				return pv, ErrInvalidParams("missing param: " + f.name)
			}
			continue
		}
		field := pv.Elem().Field(f.index)
		if err := codec.unmarshal(raw, field.Addr().Interface()); err != nil {
			return pv, ErrInvalidParams(fmt.Sprintf("param %q: %v", f.name, err))
		}
	}
	return pv, nil
}

// splitRawParams derives the positional list or keyword mapping from
// raw params. A scalar params value is treated as a single positional
// argument. pos nil and named nil together mean params were absent;
// an empty array yields a non-nil empty pos.
func splitRawParams(params jsontext.Value, codec Codec) ([]jsontext.Value, map[string]jsontext.Value, error) {
	if len(params) == 0 {
		return nil, nil, nil
	}
	switch firstByte(params) {
	case '[':
		pos := []jsontext.Value{}
		if err := codec.unmarshal(params, &pos); err != nil {
			return nil, nil, ErrInvalidParams(err.Error())
		}
		return pos, nil, nil
	case '{':
		named := map[string]jsontext.Value{}
		if err := codec.unmarshal(params, &named); err != nil {
			return nil, nil, ErrInvalidParams(err.Error())
		}
		return nil, named, nil
	default:
		return []jsontext.Value{params}, nil, nil
	}
}

// structFields builds the binding plan for a struct params target:
// exported fields in declaration order, named by json tag, required
// unless the tag carries omitempty or omitzero.
func structFields(t reflect.Type) []paramField {
	fields := make([]paramField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		required := true
		if tag, ok := f.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" && len(parts) == 1 {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" || opt == "omitzero" {
					required = false
				}
			}
		}
		fields = append(fields, paramField{name: name, index: i, required: required})
	}
	return fields
}

// funcName derives a method name from the function's own symbol name.
func funcName(fn any) string {
	pc := reflect.ValueOf(fn).Pointer()
	f := runtime.FuncForPC(pc)
	if f == nil {
		return ""
	}
	name := f.Name()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	// Anonymous functions have no usable name.
	if strings.HasPrefix(name, "func") {
		return ""
	}
	return name
}
