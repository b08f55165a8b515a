package command

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/fieldtrail/kit"
)

// RegisterMCP exposes the trail over MCP so an agent can inspect the current
// session and file captures alongside the human researcher.
func (d *Dispatcher) RegisterMCP(srv *mcp.Server) {
	d.registerStateTool(srv)
	d.registerCaptureTextTool(srv)
	d.registerCaptureFramesTool(srv)
	d.registerVideoTimeTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// run dispatches on behalf of an MCP tool, unwrapping the envelope so the
// tool returns the bare result or an error.
func (d *Dispatcher) run(ctx context.Context, name Name, payload any) (any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp := d.Dispatch(ctx, Request{Command: name, Payload: raw})
	if resp.Error != nil {
		return nil, errors.New(resp.Error.Message)
	}
	return resp.Result, nil
}

func (d *Dispatcher) registerStateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "trail_state",
		Description: "Return the current research session, its navigation trail, and captured items.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return d.run(ctx, GetState, &GetStateRequest{})
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (d *Dispatcher) registerCaptureTextTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "trail_capture_text",
		Description: "Queue a text snippet as a captured item in the current research session.",
		InputSchema: inputSchema(map[string]any{
			"text":       map[string]any{"type": "string", "description": "Text to capture"},
			"url":        map[string]any{"type": "string", "description": "Source page URL"},
			"page_title": map[string]any{"type": "string", "description": "Source page title"},
		}, []string{"text"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return d.run(ctx, CaptureText, req.(*CaptureTextRequest))
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r CaptureTextRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (d *Dispatcher) registerCaptureFramesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "trail_capture_frames",
		Description: "Sample representative frames from the playing video between two positions (seconds).",
		InputSchema: inputSchema(map[string]any{
			"start_secs": map[string]any{"type": "number", "description": "Range start in seconds"},
			"end_secs":   map[string]any{"type": "number", "description": "Range end in seconds"},
		}, []string{"start_secs", "end_secs"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return d.run(ctx, CaptureFramesRange, req.(*FrameRangeRequest))
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r FrameRangeRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (d *Dispatcher) registerVideoTimeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "trail_video_time",
		Description: "Return the playback position of the video in the tracked viewport, if any.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return d.run(ctx, GetVideoTime, &GetVideoTimeRequest{})
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
