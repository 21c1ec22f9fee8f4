package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aplbridge/internal/binding"
	"github.com/roach88/aplbridge/internal/core/memcore"
	"github.com/roach88/aplbridge/internal/protocol"
)

const frameDoc = `{"type":"APL","version":"1.4","mainTemplate":{"items":{"type":"Frame","id":"f"}}}`

type noDownloads struct{}

func (noDownloads) DownloadResource(context.Context, string) (string, error) {
	return "", errors.New("offline")
}

type fakeBridge struct {
	mu       sync.Mutex
	renders  []binding.RenderRequest
	commands []string
	tokens   []string
	sources  []string
	cleared  int
	back     bool
}

func (f *fakeBridge) Render(_ context.Context, req binding.RenderRequest) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders = append(f.renders, req)
	if req.Token == "" {
		return "generated"
	}
	return req.Token
}

func (f *fakeBridge) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func (f *fakeBridge) ExecuteCommands(payload []byte, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, string(payload))
	f.tokens = append(f.tokens, token)
}

func (f *fakeBridge) InterruptCommandSequence() {}

func (f *fakeBridge) DataSourceUpdate(sourceType, payload, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, sourceType+"|"+payload+"|"+token)
}

func (f *fakeBridge) OnMessage([]byte) {}

func (f *fakeBridge) HandleBack(context.Context) (bool, error) {
	return f.back, nil
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestRender_Endpoint(t *testing.T) {
	bridge := &fakeBridge{}
	srv := httptest.NewServer(NewServer(context.Background(), NewHost(HostOptions{}), bridge).Handler())
	defer srv.Close()

	resp, out := post(t, srv.URL+"/render", `{"document":`+frameDoc+`,"data":"{\"a\":1}","parameters":{"extra":{"b":2}}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "generated", out["token"])

	require.Len(t, bridge.renders, 1)
	assert.Equal(t, frameDoc, bridge.renders[0].Document)
	assert.Equal(t, `{"a":1}`, bridge.renders[0].Data)
	assert.Equal(t, `{"b":2}`, bridge.renders[0].Parameters["extra"])

	resp, out = post(t, srv.URL+"/render", `{"token":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "document is required", out["error"])

	resp, _ = post(t, srv.URL+"/render", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommandsAndDataSource_Endpoints(t *testing.T) {
	bridge := &fakeBridge{back: true}
	srv := httptest.NewServer(NewServer(context.Background(), NewHost(HostOptions{}), bridge).Handler())
	defer srv.Close()

	resp, _ := post(t, srv.URL+"/commands", `{"token":"cmd","commands":[{"type":"Idle"}]}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{`{"commands":[{"type":"Idle"}]}`}, bridge.commands)
	assert.Equal(t, []string{"cmd"}, bridge.tokens)

	resp, _ = post(t, srv.URL+"/datasource", `{"type":"dynamicIndexList","token":"t","payload":{"listId":"l"}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{`dynamicIndexList|{"listId":"l"}|t`}, bridge.sources)

	resp, _ = post(t, srv.URL+"/datasource", `{"payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out := post(t, srv.URL+"/back", ``)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["handled"])

	resp, _ = post(t, srv.URL+"/clear", ``)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, bridge.cleared)

	getResp, err := http.Get(srv.URL + "/clear")
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestHost_Events(t *testing.T) {
	h := NewHost(HostOptions{AllowOpenURL: true})
	h.ResetViewhost("a")
	h.OnRenderDocumentComplete("a", false, "Unable to create content")
	assert.True(t, h.OnOpenURL("a", "https://example.com"))

	all := h.Events(0)
	require.Len(t, all, 3)
	assert.Equal(t, "resetViewhost", all[0].Name)
	assert.Equal(t, 1, all[0].Seq)
	require.NotNil(t, all[1].OK)
	assert.False(t, *all[1].OK)
	assert.Equal(t, "Unable to create content", all[1].Detail)

	later := h.Events(2)
	require.Len(t, later, 1)
	assert.Equal(t, "openURL", later[0].Name)
}

func TestHost_EventsBounded(t *testing.T) {
	h := NewHost(HostOptions{})
	for i := 0; i < maxEvents+10; i++ {
		h.OnFinish("t")
	}
	events := h.Events(0)
	assert.Len(t, events, maxEvents)
	assert.Equal(t, 11, events[0].Seq)
}

func TestHost_TimezoneOffset(t *testing.T) {
	h := NewHost(HostOptions{Location: time.FixedZone("plus-one", 3600)})
	assert.Equal(t, time.Hour, h.TimezoneOffset())
}

func TestHost_SendWithoutViewhost(t *testing.T) {
	h := NewHost(HostOptions{})
	assert.False(t, h.Attached())
	h.SendMessage("t", []byte(`{"type":"dirty"}`))
}

func TestViewhostRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewHost(HostOptions{})
	b := binding.New(host, memcore.New(), noDownloads{}, binding.DefaultConfig())
	go b.Run(ctx)

	srv := httptest.NewServer(NewServer(ctx, host, b).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/viewhost", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, host.Attached, time.Second, 5*time.Millisecond)

	_, out := post(t, srv.URL+"/render", `{"token":"doc","document":`+frameDoc+`}`)
	require.Equal(t, "doc", out["token"])
	require.Eventually(t, func() bool {
		return len(host.Events(0)) > 0 && host.Events(0)[0].Name == "resetViewhost"
	}, time.Second, 5*time.Millisecond)

	build := `{"type":"build","payload":{"width":1024,"height":600,"dpi":160,"mode":"hub","shape":"rectangle"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(build)))

	var types []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env protocol.Reply
		require.NoError(t, json.Unmarshal(data, &env))
		types = append(types, env.Type)
		if env.Type == protocol.TypeHierarchy {
			break
		}
	}
	assert.Equal(t, protocol.TypeRenderingOptions, types[0])
	assert.Contains(t, types, protocol.TypeDocTheme)

	require.Eventually(t, func() bool {
		for _, e := range host.Events(0) {
			if e.Name == "renderDocumentComplete" && e.OK != nil && *e.OK {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	resp, back := post(t, srv.URL+"/back", ``)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, back["handled"])
}
