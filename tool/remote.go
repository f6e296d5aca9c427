package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/logging"
	"gopkg.in/yaml.v3"
)

// RemoteSpec declares a catalog entry executed by an HTTP endpoint.
type RemoteSpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Kind        Kind           `yaml:"kind"`
	Sensitive   bool           `yaml:"sensitive"`
	Endpoint    string         `yaml:"endpoint"`
	Parameters  map[string]any `yaml:"parameters"`
	Timeout     time.Duration  `yaml:"timeout"`
}

// ParseRemoteSpecs reads the `tools:` list of a YAML document.
func ParseRemoteSpecs(data []byte) ([]RemoteSpec, error) {
	var doc struct {
		Tools []RemoteSpec `yaml:"tools"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tool specs: %w", err)
	}
	for i, s := range doc.Tools {
		if s.Name == "" {
			return nil, fmt.Errorf("tool spec %d: name is required", i)
		}
		if s.Endpoint == "" {
			return nil, fmt.Errorf("tool spec %q: endpoint is required", s.Name)
		}
	}
	return doc.Tools, nil
}

// Entry turns the spec into a catalog entry backed by a RemoteTool.
func (s RemoteSpec) Entry(client *http.Client) Entry {
	return Entry{
		Tool:      NewRemoteTool(s, client),
		Kind:      s.Kind,
		Sensitive: s.Sensitive,
	}
}

// RemoteTool POSTs its JSON arguments to an endpoint and returns the
// response. JSON bodies are decoded; anything else is returned as text.
type RemoteTool struct {
	spec   RemoteSpec
	client *http.Client
}

// NewRemoteTool creates a RemoteTool. A nil client uses one with the spec's
// timeout (two minutes by default).
func NewRemoteTool(spec RemoteSpec, client *http.Client) *RemoteTool {
	if client == nil {
		timeout := spec.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	if spec.Parameters == nil {
		spec.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &RemoteTool{spec: spec, client: client}
}

// Name returns the tool name.
func (t *RemoteTool) Name() string { return t.spec.Name }

// Description returns the tool description.
func (t *RemoteTool) Description() string { return t.spec.Description }

// Parameters returns the JSON Schema of the arguments.
func (t *RemoteTool) Parameters() map[string]any { return t.spec.Parameters }

// Call performs the request.
func (t *RemoteTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	start := time.Now()
	result, err := t.call(tc, args)
	logging.LogToolCall(tc.Logger(), t.spec.Name, time.Since(start), err)
	return result, err
}

func (t *RemoteTool) call(tc *core.ToolContext, args map[string]any) (any, error) {
	body, err := json.Marshal(map[string]any{
		"arguments":  args,
		"session_id": tc.SessionID(),
		"canvas_id":  tc.CanvasID(),
		"call_id":    tc.FunctionCallID(),
	})
	if err != nil {
		return nil, NewToolError(t.spec.Name, err.Error(), CodeValidation)
	}

	req, err := http.NewRequestWithContext(tc.Context(), http.MethodPost, t.spec.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewToolError(t.spec.Name, err.Error(), CodeExecution)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, NewToolError(t.spec.Name, err.Error(), CodeExecution)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, NewToolError(t.spec.Name, err.Error(), CodeExecution)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewToolError(t.spec.Name, "endpoint not found", CodeNotFound)
	case resp.StatusCode >= 400:
		return nil, NewToolError(t.spec.Name, fmt.Sprintf("endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw)), CodeExecution)
	}

	var decoded any
	if json.Unmarshal(raw, &decoded) == nil {
		return decoded, nil
	}
	return string(raw), nil
}
