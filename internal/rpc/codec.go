package rpc

import "encoding/json"

// Request is the client→server wire shape for `rpc{...}` (§4.4).
type Request struct {
	Type   string            `json:"type"`
	ID     string            `json:"id"`
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args"`
	Stream bool              `json:"stream,omitempty"`
}

// Response is the server→client wire shape, covering the unary success,
// streaming chunk/done, and failure cases from §4.4.
type Response struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	Success *bool       `json:"success,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Chunk   interface{} `json:"chunk,omitempty"`
	Done    *bool       `json:"done,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo is the failure payload: `rpc{id, success: false, error:
// {message}}`.
type ErrorInfo struct {
	Message string `json:"message"`
}

func boolPtr(b bool) *bool { return &b }

// successResponse builds a unary success frame.
func successResponse(id string, result interface{}) Response {
	return Response{Type: "rpc", ID: id, Success: boolPtr(true), Result: result}
}

// failureResponse builds a failure frame.
func failureResponse(id string, err error) Response {
	return Response{Type: "rpc", ID: id, Success: boolPtr(false), Error: &ErrorInfo{Message: err.Error()}}
}

// chunkResponse builds one streaming chunk frame.
func chunkResponse(id string, chunk interface{}) Response {
	return Response{Type: "rpc", ID: id, Chunk: chunk}
}

// doneResponse builds the terminal streaming frame.
func doneResponse(id string, result interface{}) Response {
	return Response{Type: "rpc", ID: id, Done: boolPtr(true), Result: result}
}

// decodeArgs decodes a call's positional args into dst. The wire protocol's
// `args[]` is positional to mirror a JS `(...args)` call. Every method
// registered via Register/RegisterStreaming in this codebase so far takes
// exactly one args object, so the single-arg case decodes args[0] directly
// into dst. A call with more than one positional arg re-packs the raw
// elements into a JSON array so a handler whose dst is itself array- or
// tuple-shaped (e.g. a custom type implementing UnmarshalJSON over a JSON
// array) can still recover every argument, matching scenarios like
// `add(a, b)` called over the wire as `args:[2,3]`. A call with zero args
// decodes as the zero value of dst.
func decodeArgs(rawArgs []json.RawMessage, dst interface{}) error {
	switch len(rawArgs) {
	case 0:
		return nil
	case 1:
		return json.Unmarshal(rawArgs[0], dst)
	default:
		raw, err := json.Marshal(rawArgs)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dst)
	}
}
