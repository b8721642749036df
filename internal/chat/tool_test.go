package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsClientToolReflectsNilExecute(t *testing.T) {
	clientTool := Tool{Name: "approve-purchase"}
	assert.True(t, clientTool.IsClientTool())

	serverTool := Tool{
		Name: "search",
		Execute: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
	}
	assert.False(t, serverTool.IsClientTool())
}

func TestNeedsApprovalGatesOnArgs(t *testing.T) {
	tool := Tool{
		Name: "delete-file",
		NeedsApproval: func(args json.RawMessage) bool {
			return string(args) != `{"path":"/tmp/safe"}`
		},
	}
	assert.True(t, tool.NeedsApproval(json.RawMessage(`{"path":"/etc/passwd"}`)))
	assert.False(t, tool.NeedsApproval(json.RawMessage(`{"path":"/tmp/safe"}`)))
}
