package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/projectmemory/pkg/observability"
	"github.com/S-Corkum/projectmemory/pkg/rpc"
)

func newTestServer() *rpc.Server {
	s := rpc.NewServer(observability.NewNoopLogger())
	s.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{Name: "echo", Description: "echoes its input", InputSchema: map[string]interface{}{"type": "object"}},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args, nil
		},
	})
	s.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{Name: "boom", Description: "always fails", InputSchema: map[string]interface{}{"type": "object"}},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, assertErr{"boom failed"}
		},
	})
	s.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{Name: "panics", Description: "panics", InputSchema: map[string]interface{}{"type": "object"}},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			panic("unexpected state")
		},
	})
	return s
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func decodeResponses(t *testing.T, out *bytes.Buffer) []rpc.Response {
	t.Helper()
	var responses []rpc.Response
	dec := json.NewDecoder(out)
	for {
		var resp rpc.Response
		if err := dec.Decode(&resp); err != nil {
			break
		}
		responses = append(responses, resp)
	}
	return responses
}

func TestServe_Initialize(t *testing.T) {
	s := newTestServer()
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n")
	var out bytes.Buffer

	err := s.Serve(context.Background(), in, &out)
	require.NoError(t, err)

	resp := decodeResponses(t, &out)
	require.Len(t, resp, 1)
	assert.Nil(t, resp[0].Error)
	assert.NotNil(t, resp[0].Result)
}

func TestServe_ToolsList(t *testing.T) {
	s := newTestServer()
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}` + "\n")
	var out bytes.Buffer

	require.NoError(t, s.Serve(context.Background(), in, &out))

	resp := decodeResponses(t, &out)
	require.Len(t, resp, 1)
	result, ok := resp[0].Result.(map[string]interface{})
	require.True(t, ok)
	tools, ok := result["tools"].([]interface{})
	require.True(t, ok)
	assert.Len(t, tools, 3)
}

func TestServe_ToolsCall_Success(t *testing.T) {
	s := newTestServer()
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"x":1}}}` + "\n")
	var out bytes.Buffer

	require.NoError(t, s.Serve(context.Background(), in, &out))

	resp := decodeResponses(t, &out)
	require.Len(t, resp, 1)
	require.Nil(t, resp[0].Error)

	result, ok := resp[0].Result.(map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, result["error"])
}

func TestServe_ToolsCall_HandlerError(t *testing.T) {
	s := newTestServer()
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"boom","arguments":{}}}` + "\n")
	var out bytes.Buffer

	require.NoError(t, s.Serve(context.Background(), in, &out))

	resp := decodeResponses(t, &out)
	require.Len(t, resp, 1)
	require.Nil(t, resp[0].Error)

	result, ok := resp[0].Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "boom failed", result["error"])
}

func TestServe_ToolsCall_PanicIsRecovered(t *testing.T) {
	s := newTestServer()
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"panics","arguments":{}}}` + "\n")
	var out bytes.Buffer

	require.NoError(t, s.Serve(context.Background(), in, &out))

	resp := decodeResponses(t, &out)
	require.Len(t, resp, 1)
	require.Nil(t, resp[0].Error)

	result, ok := resp[0].Result.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, result["error"], "unexpected state")
}

func TestServe_ToolsCall_UnknownTool(t *testing.T) {
	s := newTestServer()
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope","arguments":{}}}` + "\n")
	var out bytes.Buffer

	require.NoError(t, s.Serve(context.Background(), in, &out))

	resp := decodeResponses(t, &out)
	require.Len(t, resp, 1)
	require.NotNil(t, resp[0].Error)
	assert.Equal(t, rpc.CodeInvalidParams, resp[0].Error.Code)
}

func TestServe_UnknownMethod(t *testing.T) {
	s := newTestServer()
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"frobnicate","params":{}}` + "\n")
	var out bytes.Buffer

	require.NoError(t, s.Serve(context.Background(), in, &out))

	resp := decodeResponses(t, &out)
	require.Len(t, resp, 1)
	require.NotNil(t, resp[0].Error)
	assert.Equal(t, rpc.CodeMethodNotFound, resp[0].Error.Code)
}

func TestServe_MalformedLineContinues(t *testing.T) {
	s := newTestServer()
	in := strings.NewReader("not json\n" + `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{}}` + "\n")
	var out bytes.Buffer

	require.NoError(t, s.Serve(context.Background(), in, &out))

	resp := decodeResponses(t, &out)
	require.Len(t, resp, 2)
	require.NotNil(t, resp[0].Error)
	assert.Equal(t, rpc.CodeParseError, resp[0].Error.Code)
	assert.Nil(t, resp[1].Error)
}

func TestServe_ShutdownStopsTheLoop(t *testing.T) {
	s := newTestServer()
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"shutdown","params":{}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{}}` + "\n")
	var out bytes.Buffer

	require.NoError(t, s.Serve(context.Background(), in, &out))

	resp := decodeResponses(t, &out)
	require.Len(t, resp, 1, "the second line must not be processed once shutdown is handled")
}
