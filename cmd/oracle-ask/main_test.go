package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamServer(t *testing.T, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/chat/stream":
			if seen != nil {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
			}
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, body)
		case r.Method == http.MethodGet && r.URL.Path == "/api/health":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"ok","model":"gemini-2.5-flash","mcpServers":[{"name":"obsidian-vault","status":"connected"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRun_PrintsProgressAndAnswer(t *testing.T) {
	var seen map[string]any
	server := newStreamServer(t,
		"event: progress\ndata: {\"message\":\"Calling search on obsidian-vault\",\"phase\":\"started\"}\n\n"+
			": ping\n\n"+
			"event: final\ndata: {\"conversationId\":\"conv_9\",\"message\":{\"id\":\"m2\",\"role\":\"assistant\",\"content\":\"Kalak rules Tyr.\"}}\n\n",
		&seen)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-addr", server.URL, "-plain", "-conversation", "conv_9", "Who", "rules", "Tyr?"}, &stdout, &stderr)

	require.NoError(t, err)
	assert.Equal(t, "Who rules Tyr?", seen["message"])
	assert.Equal(t, "conv_9", seen["conversationId"])
	assert.Equal(t, "Kalak rules Tyr.\n", stdout.String())
	assert.Contains(t, stderr.String(), "... Calling search on obsidian-vault")
	assert.Contains(t, stderr.String(), "conversation: conv_9")
}

func TestRun_StreamError(t *testing.T) {
	server := newStreamServer(t, "event: error\ndata: {\"error\":\"model unavailable\"}\n\n", nil)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-addr", server.URL, "-plain", "hello"}, &stdout, &stderr)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Contains(t, stderr.String(), "error: model unavailable")
	assert.Empty(t, stdout.String())
}

func TestRun_Status(t *testing.T) {
	server := newStreamServer(t, "", nil)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-addr", server.URL, "-plain", "-status"}, &stdout, &stderr)

	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "status: ok")
	assert.Contains(t, stdout.String(), "model: gemini-2.5-flash")
	assert.Contains(t, stdout.String(), "obsidian-vault")
	assert.Contains(t, stdout.String(), "connected")
}

func TestRun_RequiresQuestion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-plain"}, &stdout, &stderr)

	require.Error(t, err)
	assert.Contains(t, stderr.String(), "usage: oracle-ask")
}
