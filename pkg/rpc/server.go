package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/S-Corkum/projectmemory/pkg/observability"
)

// Handler is one tool's implementation. Spec section 6 describes the
// host injecting a `_context` argument carrying references to the memory
// manager, query engine, and adapters; in Go those capabilities are typed
// Go values rather than JSON-marshalable ones, so the server closes over
// them at registration time instead of threading an untyped "_context"
// key through `arguments` — the same capability-injection contract,
// expressed with Go's type system rather than a map entry.
type Handler func(ctx context.Context, arguments map[string]interface{}) (interface{}, error)

// Tool bundles a handler with its tools/list descriptor.
type Tool struct {
	Descriptor ToolDescriptor
	Handler    Handler
}

// Server drives the line-delimited JSON-RPC loop over stdio (spec section
// 6's wire protocol). Tool implementations catch all errors at their
// outer boundary per spec section 7; Server.dispatch only ever returns a
// Response, never propagates.
type Server struct {
	tools  map[string]Tool
	order  []string
	logger observability.Logger

	mu       sync.Mutex
	shutdown bool
}

// NewServer builds an empty Server; call RegisterTool before Serve.
func NewServer(logger observability.Logger) *Server {
	return &Server{tools: map[string]Tool{}, logger: logger}
}

// RegisterTool adds a tool to both tools/list and tools/call dispatch.
func (s *Server) RegisterTool(t Tool) {
	if _, exists := s.tools[t.Descriptor.Name]; !exists {
		s.order = append(s.order, t.Descriptor.Name)
	}
	s.tools[t.Descriptor.Name] = t
}

// Serve reads one JSON-RPC request per line from r, dispatches it, and
// writes one JSON-RPC response per line to w, until r is exhausted, ctx is
// cancelled, or a shutdown request is handled. It never panics on a
// malformed line: a line that fails to parse gets a CodeParseError
// response and the loop continues.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := enc.Encode(newError(nil, CodeParseError, "parse error: "+err.Error())); encErr != nil {
				return encErr
			}
			continue
		}

		resp := s.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			return err
		}

		s.mu.Lock()
		done := s.shutdown
		s.mu.Unlock()
		if done {
			return nil
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Method {
	case "initialize":
		return newResult(req.ID, map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]interface{}{"name": "projectmemory", "version": "0.1.0"},
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
		})

	case "tools/list":
		descs := make([]ToolDescriptor, 0, len(s.order))
		for _, name := range s.order {
			descs = append(descs, s.tools[name].Descriptor)
		}
		return newResult(req.ID, map[string]interface{}{"tools": descs})

	case "tools/call":
		return s.dispatchToolCall(ctx, req)

	case "shutdown":
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		return newResult(req.ID, map[string]interface{}{"ok": true})

	default:
		return newError(req.ID, CodeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *Server) dispatchToolCall(ctx context.Context, req Request) (resp Response) {
	defer func() {
		// Tool implementations catch all exceptions at their outer boundary
		// (spec section 7); a Go panic reaching here is the equivalent
		// boundary for an unexpected internal state, converted rather than
		// left to crash the process.
		if r := recover(); r != nil {
			resp = newResult(req.ID, ToolCallResult{Error: fmt.Sprintf("tool panicked: %v", r)})
		}
	}()

	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newError(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
	}

	tool, ok := s.tools[params.Name]
	if !ok {
		return newError(req.ID, CodeInvalidParams, "unknown tool: "+params.Name)
	}

	result, err := tool.Handler(ctx, params.Arguments)
	if err != nil {
		s.logger.Warn("tool call failed", map[string]interface{}{"tool": params.Name, "error": err.Error()})
		return newResult(req.ID, ToolCallResult{Error: err.Error()})
	}
	return newResult(req.ID, ToolCallResult{Content: result})
}
