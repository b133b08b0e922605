package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ctbritt/dark-sun-assistant/internal/chat"
	"github.com/ctbritt/dark-sun-assistant/internal/conversation"
	"github.com/ctbritt/dark-sun-assistant/internal/upload"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow/progress"
)

// chatRequestBody is the wire form of a chat request. Attachments are the file
// objects returned by POST /api/upload, sent back unchanged.
type chatRequestBody struct {
	Message        string        `json:"message"`
	ConversationID string        `json:"conversationId,omitempty"`
	Attachments    []upload.File `json:"attachments,omitempty"`
}

func (b chatRequestBody) request() chat.Request {
	req := chat.Request{Message: b.Message, ConversationID: b.ConversationID}
	if len(b.Attachments) > 0 {
		req.Attachments = make([]conversation.Attachment, 0, len(b.Attachments))
		for i := range b.Attachments {
			req.Attachments = append(req.Attachments, b.Attachments[i].Attachment())
		}
	}
	return req
}

func (h *handlers) decodeChatRequest(w http.ResponseWriter, r *http.Request) (chat.Request, bool) {
	var body chatRequestBody
	if err := decodeJSONBody(w, r, &body, false); err != nil {
		writeMappedError(w, err)
		return chat.Request{}, false
	}
	if strings.TrimSpace(body.Message) == "" {
		writeInvalidRequest(w, "message is required")
		return chat.Request{}, false
	}
	return body.request(), true
}

func (h *handlers) chatContext(parent context.Context) (context.Context, context.CancelFunc) {
	if h.chatTimeout > 0 {
		return context.WithTimeout(parent, h.chatTimeout)
	}
	return context.WithCancel(parent)
}

func (h *handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.chatContext(r.Context())
	defer cancel()

	resp, err := h.chat.Send(ctx, req)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChatStream answers over Server-Sent Events. The answer is produced even if the
// client goes away; the stream then ends and the result stays in the store.
func (h *handlers) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errorCodeRuntime, "streaming is unsupported by response writer")
		return
	}

	reporter := progress.NewReporter(h.progressBuf)
	go func() {
		ctx, cancel := h.chatContext(context.WithoutCancel(r.Context()))
		defer cancel()
		if _, err := h.chat.Stream(ctx, req, reporter); err != nil {
			h.logger.Warn("streamed chat failed", "err", err)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		ev, err := h.nextEvent(r.Context(), reporter)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return
		case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
			continue
		default:
			h.logger.Debug("stream client went away", "err", err, "dropped_progress", reporter.Dropped())
			return
		}

		if err := writeSSE(w, flusher, ev); err != nil {
			return
		}
		if workflow.Terminal(ev) {
			return
		}
	}
}

func (h *handlers) nextEvent(ctx context.Context, reporter *progress.Reporter) (workflow.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, h.heartbeat)
	defer cancel()
	return reporter.Next(ctx)
}

func writeSSE(w io.Writer, flusher http.Flusher, ev workflow.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind(), data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
