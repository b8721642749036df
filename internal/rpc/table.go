// Package rpc implements the typed request/response and streaming method
// dispatcher described in §4.4: a table of callable methods, a reflection-
// based serializability check standing in for the TypeScript type-level
// filter, and the wire codec for `rpc{...}` frames.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/arkeep-io/agenthost/internal/metrics"
)

// Method is one entry in a Table: a callable, optionally streaming, RPC
// method plus the introspection metadata returned by listMethods().
type Method struct {
	Name        string
	Description string
	Streaming   bool
	InputSchema reflect.Type
	OutputSchema reflect.Type

	call func(ctx context.Context, props map[string]interface{}, rawArgs []json.RawMessage, out Sender) (interface{}, error)
}

// Table is the set of callable methods registered for one agent type.
// Safe for concurrent read after registration; Register is expected to run
// during factory construction, before any call can arrive.
type Table struct {
	methods map[string]Method
	metrics *metrics.Metrics
}

// NewTable creates an empty method table.
func NewTable() *Table {
	return &Table{methods: make(map[string]Method)}
}

// SetMetrics wires m so every call recorded through Handle counts against
// agenthost_rpc_calls_total/agenthost_rpc_duration_seconds. Optional.
func (t *Table) SetMetrics(m *metrics.Metrics) {
	t.metrics = m
}

// Option configures a registered method.
type Option func(*Method)

// WithDescription attaches human-readable documentation surfaced by
// listMethods().
func WithDescription(desc string) Option {
	return func(m *Method) { m.Description = desc }
}

// Register adds a unary callable method to the table. fn's TArgs and
// TResult are checked for JSON-serializability via one reflection pass at
// registration time (see serializable.go) — the closest Go analogue to the
// TypeScript compile-time filter in §4.4/§9: a method whose types fail the
// check is a programmer error, so Register panics rather than returning an
// error.
func Register[TArgs any, TResult any](t *Table, name string, fn func(ctx context.Context, props map[string]interface{}, args TArgs) (TResult, error), opts ...Option) {
	var argsZero TArgs
	var resultZero TResult
	mustBeSerializable(name, argsZero)
	mustBeSerializable(name, resultZero)

	m := Method{
		Name:         name,
		InputSchema:  reflect.TypeOf(argsZero),
		OutputSchema: reflect.TypeOf(resultZero),
		call: func(ctx context.Context, props map[string]interface{}, rawArgs []json.RawMessage, _ Sender) (interface{}, error) {
			var args TArgs
			if err := decodeArgs(rawArgs, &args); err != nil {
				return nil, fmt.Errorf("rpc: decoding args for %q: %w", name, err)
			}
			return fn(ctx, props, args)
		},
	}
	for _, opt := range opts {
		opt(&m)
	}
	t.methods[name] = m
}

// RegisterStreaming adds a streaming callable method to the table. fn
// receives a Sender used to emit `rpc{id, chunk}` frames before returning
// its final TResult.
func RegisterStreaming[TArgs any, TResult any](t *Table, name string, fn func(ctx context.Context, props map[string]interface{}, args TArgs, out Sender) (TResult, error), opts ...Option) {
	var argsZero TArgs
	var resultZero TResult
	mustBeSerializable(name, argsZero)
	mustBeSerializable(name, resultZero)

	m := Method{
		Name:         name,
		Streaming:    true,
		InputSchema:  reflect.TypeOf(argsZero),
		OutputSchema: reflect.TypeOf(resultZero),
		call: func(ctx context.Context, props map[string]interface{}, rawArgs []json.RawMessage, out Sender) (interface{}, error) {
			var args TArgs
			if err := decodeArgs(rawArgs, &args); err != nil {
				return nil, fmt.Errorf("rpc: decoding args for %q: %w", name, err)
			}
			return fn(ctx, props, args, out)
		},
	}
	for _, opt := range opts {
		opt(&m)
	}
	t.methods[name] = m
}

// MethodInfo is the shape returned by listMethods().
type MethodInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ListMethods returns introspection info for every registered method,
// synthesized from the table's Description fields (§4.4).
func (t *Table) ListMethods() []MethodInfo {
	out := make([]MethodInfo, 0, len(t.methods))
	for _, m := range t.methods {
		out = append(out, MethodInfo{Name: m.Name, Description: m.Description})
	}
	return out
}

// Lookup returns the named method and whether it is declared callable.
func (t *Table) Lookup(name string) (Method, bool) {
	m, ok := t.methods[name]
	return m, ok
}
