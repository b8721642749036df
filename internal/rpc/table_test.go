package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingArgs struct {
	Message string `json:"message"`
}

type pingResult struct {
	Echo string `json:"echo"`
}

func TestRegisterAndLookup(t *testing.T) {
	table := NewTable()
	Register(table, "ping", func(ctx context.Context, props map[string]interface{}, args pingArgs) (pingResult, error) {
		return pingResult{Echo: args.Message}, nil
	}, WithDescription("echoes its input"))

	m, ok := table.Lookup("ping")
	require.True(t, ok)
	assert.Equal(t, "ping", m.Name)
	assert.Equal(t, "echoes its input", m.Description)
	assert.False(t, m.Streaming)
}

func TestLookupUnknownMethod(t *testing.T) {
	table := NewTable()
	_, ok := table.Lookup("nope")
	assert.False(t, ok)
}

func TestRegisterStreamingMarksStreamingTrue(t *testing.T) {
	table := NewTable()
	RegisterStreaming(table, "stream", func(ctx context.Context, props map[string]interface{}, args pingArgs, out Sender) (pingResult, error) {
		out.Send(args.Message)
		return pingResult{Echo: args.Message}, nil
	})

	m, ok := table.Lookup("stream")
	require.True(t, ok)
	assert.True(t, m.Streaming)
}

func TestListMethodsReturnsEveryRegisteredMethod(t *testing.T) {
	table := NewTable()
	Register(table, "a", func(ctx context.Context, props map[string]interface{}, args pingArgs) (pingResult, error) {
		return pingResult{}, nil
	})
	Register(table, "b", func(ctx context.Context, props map[string]interface{}, args pingArgs) (pingResult, error) {
		return pingResult{}, nil
	}, WithDescription("b does things"))

	infos := table.ListMethods()
	assert.Len(t, infos, 2)

	byName := map[string]MethodInfo{}
	for _, i := range infos {
		byName[i.Name] = i
	}
	assert.Equal(t, "b does things", byName["b"].Description)
	assert.Equal(t, "", byName["a"].Description)
}

func TestRegisterPanicsOnNonSerializableArgs(t *testing.T) {
	table := NewTable()
	type badArgs struct {
		Cb func()
	}
	assert.Panics(t, func() {
		Register(table, "bad", func(ctx context.Context, props map[string]interface{}, args badArgs) (pingResult, error) {
			return pingResult{}, nil
		})
	})
}
