package rpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeArgsSingleArgDecodesDirectly(t *testing.T) {
	var args pingArgs
	raw := []json.RawMessage{json.RawMessage(`{"message":"hi"}`)}
	require.NoError(t, decodeArgs(raw, &args))
	assert.Equal(t, "hi", args.Message)
}

type addArgs struct {
	A, B int
}

func (a *addArgs) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	if len(nums) > 0 {
		a.A = nums[0]
	}
	if len(nums) > 1 {
		a.B = nums[1]
	}
	return nil
}

func TestDecodeArgsPacksMultiplePositionalArgsForTupleShapedDst(t *testing.T) {
	var args addArgs
	raw := []json.RawMessage{json.RawMessage(`2`), json.RawMessage(`3`)}
	require.NoError(t, decodeArgs(raw, &args))
	assert.Equal(t, addArgs{A: 2, B: 3}, args)
}

func TestDecodeArgsEmptyLeavesZeroValue(t *testing.T) {
	var args pingArgs
	require.NoError(t, decodeArgs(nil, &args))
	assert.Equal(t, pingArgs{}, args)
}

func TestDecodeArgsPropagatesUnmarshalError(t *testing.T) {
	var args pingArgs
	err := decodeArgs([]json.RawMessage{json.RawMessage(`not json`)}, &args)
	assert.Error(t, err)
}

func TestSuccessResponseShape(t *testing.T) {
	resp := successResponse("1", pingResult{Echo: "hi"})
	assert.Equal(t, "rpc", resp.Type)
	assert.Equal(t, "1", resp.ID)
	require.NotNil(t, resp.Success)
	assert.True(t, *resp.Success)
	assert.Nil(t, resp.Error)
}

func TestFailureResponseShape(t *testing.T) {
	resp := failureResponse("1", errors.New("boom"))
	require.NotNil(t, resp.Success)
	assert.False(t, *resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "boom", resp.Error.Message)
}

func TestChunkAndDoneResponseShapes(t *testing.T) {
	chunk := chunkResponse("1", "partial")
	assert.Equal(t, "partial", chunk.Chunk)
	assert.Nil(t, chunk.Done)

	done := doneResponse("1", pingResult{Echo: "final"})
	require.NotNil(t, done.Done)
	assert.True(t, *done.Done)
	assert.Equal(t, pingResult{Echo: "final"}, done.Result)
}
