package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/generation"
	"github.com/next-unicorn-dev/canvas/model/modeltest"
	"github.com/next-unicorn-dev/canvas/session"
	"github.com/next-unicorn-dev/canvas/stream"
	"github.com/next-unicorn-dev/canvas/tool"
	"github.com/next-unicorn-dev/canvas/transport"
)

type testEnv struct {
	srv     *Server
	svc     *generation.Service
	model   *modeltest.ScriptedModel
	catalog *tool.Catalog
}

func newTestEnv(t *testing.T, pub stream.Publisher, optFns []func(o *Options), turns ...modeltest.Turn) *testEnv {
	t.Helper()
	env := &testEnv{model: modeltest.New(turns...)}

	image := tool.NewFunctionTool("generate_image", "Generate an image.", nil,
		func(*core.ToolContext, map[string]any) (any, error) { return "https://cdn.example.com/cat.png", nil })
	upload := tool.NewFunctionTool("upload_to_instagram", "Upload to Instagram.", nil,
		func(*core.ToolContext, map[string]any) (any, error) { return "uploaded", nil })

	var err error
	env.catalog, err = tool.NewCatalog(
		tool.Entry{Tool: tool.NewWritePlanTool()},
		tool.Entry{Tool: image, Kind: tool.KindImage},
		tool.Entry{Tool: upload, Kind: tool.KindUpload, Sensitive: true},
	)
	require.NoError(t, err)

	if pub == nil {
		pub = transport.NewRecorder(nil)
	}
	env.svc, err = generation.New(func(o *generation.Options) {
		o.Catalog = env.catalog
		o.Models = generation.StaticModel(env.model)
		o.Store = session.NewInMemoryStore()
		o.Publisher = pub
	})
	require.NoError(t, err)

	env.srv = New(env.svc, env.catalog, optFns...)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const chatBody = `{
	"session_id": "s1",
	"canvas_id": "c1",
	"messages": [{"role": "user", "content": "draw a cat"}],
	"text_model": {"provider": "openai", "model": "gpt-4o"},
	"tool_list": [{"id": "generate_image", "type": "image"}]
}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestChatAndHistory(t *testing.T) {
	env := newTestEnv(t, nil, nil, modeltest.TextTurn("Meow."))

	rec := env.do(t, http.MethodPost, "/api/chat", chatBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"done"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/chat_session/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeBody[[]map[string]any](t, rec)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0]["role"])
	assert.Equal(t, "assistant", msgs[1]["role"])
	assert.Equal(t, "Meow.", msgs[1]["content"])

	rec = env.do(t, http.MethodGet, "/api/canvas/c1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decodeBody[[]session.ChatSession](t, rec)
	require.Len(t, sessions, 1)
	assert.Equal(t, "draw a cat", sessions[0].Title)
}

func TestChatSessionUnknownIsEmptyList(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodGet, "/api/chat_session/nope", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestChatRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/chat", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", `{"session_id":"s1","messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", `{"session_id":"s1","messages":[{"role":"user","content":"x"}],"tool_list":[{"id":"missing_tool"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeBody[errorBody](t, rec).Detail, "missing_tool")
	assert.Empty(t, env.model.Requests())
}

func TestCancelEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	for _, path := range []string{"/api/cancel/s1", "/api/magic/cancel/s1"} {
		rec := env.do(t, http.MethodPost, path, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"not_found_or_done"}`, rec.Body.String())
	}
}

func TestCancelLiveChat(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	env := newTestEnv(t, nil, nil, modeltest.Turn{Text: "thinking", Hold: hold})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- env.do(t, http.MethodPost, "/api/chat", chatBody) }()

	require.Eventually(t, func() bool { return env.svc.Active("s1") }, 2*time.Second, time.Millisecond)

	rec := env.do(t, http.MethodPost, "/api/cancel/s1", "")
	assert.JSONEq(t, `{"status":"cancelled"}`, rec.Body.String())

	select {
	case chat := <-done:
		assert.Equal(t, http.StatusOK, chat.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("chat request did not return after cancel")
	}
}

func TestToolConfirmation(t *testing.T) {
	env := newTestEnv(t, nil, nil,
		modeltest.CallTurn("h1", "transfer_to_instagram_uploader", `{}`),
		modeltest.CallTurn("u1", "upload_to_instagram", `{"image_url":"https://cdn.example.com/cat.png"}`),
		modeltest.TextTurn("Posted."),
	)

	rec := env.do(t, http.MethodPost, "/api/tool_confirmation", `{"session_id":"s1","tool_call_id":"u1","confirmed":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- env.do(t, http.MethodPost, "/api/chat", chatBody) }()

	require.Eventually(t, func() bool { return len(env.svc.Gate().Pending("s1")) == 1 }, 2*time.Second, time.Millisecond)

	rec = env.do(t, http.MethodPost, "/api/tool_confirmation", `{"session_id":"s1","tool_call_id":"u1","confirmed":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success"}`, rec.Body.String())

	select {
	case chat := <-done:
		assert.Equal(t, http.StatusOK, chat.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("chat request did not finish after confirmation")
	}

	rec = env.do(t, http.MethodPost, "/api/tool_confirmation", `{"session_id":"s1","tool_call_id":"u1","confirmed":false}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMagicEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	body := `{
		"session_id": "m1",
		"canvas_id": "c1",
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "✨ Magic"},
			{"type": "image_url", "image_url": {"url": "https://img.example.com/in.png"}}
		]}]
	}`

	rec := env.do(t, http.MethodPost, "/api/magic", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	msgs, err := env.svc.Store().ListMessages(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[1].Text(), "✨ Magic Success!!!"))
}

func TestRateLimitedRunStarts(t *testing.T) {
	env := newTestEnv(t, nil, []func(o *Options){func(o *Options) {
		o.RunsPerSecond = 0.001
		o.RunBurst = 1
	}}, modeltest.TextTurn("one"), modeltest.TextTurn("two"))

	rec := env.do(t, http.MethodPost, "/api/chat", chatBody)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", chatBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestListTools(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodGet, "/api/list_tools", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"generate_image","type":"image"}]`, rec.Body.String())
}

func TestEventsWithoutSubscriber(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodGet, "/api/sessions/s1/events", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestEventsStreamRun(t *testing.T) {
	bus := transport.NewWatermill()
	defer func() { _ = bus.Close() }()

	env := newTestEnv(t, bus, []func(o *Options){func(o *Options) { o.Subscriber = bus }},
		modeltest.TextTurn("Here you go."))
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sessions/s1/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		chat, err := ts.Client().Post(ts.URL+"/api/chat", "application/json", bytes.NewBufferString(chatBody))
		if assert.NoError(t, err) {
			_ = chat.Body.Close()
		}
	}()

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "event: ") {
			continue
		}
		types = append(types, strings.TrimPrefix(line, "event: "))
		if line == "event: done" {
			break
		}
	}

	require.NotEmpty(t, types)
	assert.Equal(t, string(stream.FrameDelta), types[0])
	assert.Contains(t, types, string(stream.FrameAllMessages))
	assert.Equal(t, string(stream.FrameDone), types[len(types)-1])
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(0.1, 2)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are isolated")

	l.Reset()
	assert.True(t, l.Allow("a"))

	var disabled *RateLimiter
	assert.True(t, disabled.Allow("a"))
	assert.True(t, NewRateLimiter(0, 0).Allow("a"))
}
