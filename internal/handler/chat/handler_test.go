package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/modechat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/modechat/backend/internal/service/chat"
	"github.com/zhouzirui/modechat/backend/internal/service/prompt"
	"github.com/zhouzirui/modechat/backend/internal/service/session"
	"github.com/zhouzirui/modechat/backend/internal/storage/jsonfile"
)

type cannedCompleter struct {
	reply string
	err   error
}

func (c cannedCompleter) Complete(context.Context, []*schema.Message) (string, error) {
	return c.reply, c.err
}

func setupRouter(t *testing.T, completer session.Completer) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	store := chatservice.NewService(jsonfile.New(filepath.Join(t.TempDir(), "chats.json")), nil)
	require.NoError(t, store.Load(context.Background()))

	ctrl := session.NewController(store, prompt.NewComposer(prompt.DefaultHistoryLimit), completer, time.Second, nil)
	handler := New(store, ctrl)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, store
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestNewChatThenOpen(t *testing.T) {
	r, _ := setupRouter(t, cannedCompleter{reply: "hi"})

	resp := doJSON(r, http.MethodPost, "/chats", nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	require.NotEmpty(t, created["id"])

	resp = doJSON(r, http.MethodGet, "/chats/"+created["id"], nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `[]`, resp.Body.String())

	resp = doJSON(r, http.MethodGet, "/chats", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list []chat.Summary
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, chat.DefaultTitle, list[0].Title)
}

func TestTurnEndpoint(t *testing.T) {
	r, store := setupRouter(t, cannedCompleter{reply: "Recursion is..."})

	resp := doJSON(r, http.MethodPost, "/chat", map[string]string{"mode": "explain", "message": "Explain recursion"})
	require.Equal(t, http.StatusOK, resp.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "Recursion is...", out["reply"])

	record, err := store.Get(context.Background(), out["chat_id"])
	require.NoError(t, err)
	assert.Len(t, record.Messages, 2)
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		name      string
		completer cannedCompleter
		method    string
		path      string
		body      any
		want      int
	}{
		{name: "open missing chat", method: http.MethodGet, path: "/chats/missing", want: http.StatusNotFound},
		{name: "delete missing chat", method: http.MethodDelete, path: "/chats/missing", want: http.StatusNotFound},
		{name: "turn on missing chat", completer: cannedCompleter{reply: "x"}, method: http.MethodPost, path: "/chat",
			body: map[string]string{"chat_id": "missing", "mode": "explain", "message": "hi"}, want: http.StatusNotFound},
		{name: "invalid mode", completer: cannedCompleter{reply: "x"}, method: http.MethodPost, path: "/chat",
			body: map[string]string{"mode": "sing", "message": "hi"}, want: http.StatusBadRequest},
		{name: "empty message", completer: cannedCompleter{reply: "x"}, method: http.MethodPost, path: "/chat",
			body: map[string]string{"mode": "fix"}, want: http.StatusBadRequest},
		{name: "provider failure", completer: cannedCompleter{err: errors.New("boom")}, method: http.MethodPost, path: "/chat",
			body: map[string]string{"mode": "plan", "message": "hi"}, want: http.StatusBadGateway},
		{name: "provider timeout", completer: cannedCompleter{err: context.DeadlineExceeded}, method: http.MethodPost, path: "/chat",
			body: map[string]string{"mode": "plan", "message": "hi"}, want: http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := setupRouter(t, tt.completer)
			resp := doJSON(r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.Code, resp.Body.String())
			assert.Contains(t, resp.Body.String(), `"error"`)
		})
	}
}

func TestInvalidBody(t *testing.T) {
	r, _ := setupRouter(t, cannedCompleter{reply: "x"})

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte("{")))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestDeleteChat(t *testing.T) {
	r, store := setupRouter(t, cannedCompleter{reply: "x"})
	id, err := store.Create(context.Background(), "")
	require.NoError(t, err)

	resp := doJSON(r, http.MethodDelete, "/chats/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Empty(t, store.List(context.Background()))
}

func TestListModes(t *testing.T) {
	r, _ := setupRouter(t, cannedCompleter{})

	resp := doJSON(r, http.MethodGet, "/modes", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `["explain","fix","plan"]`, resp.Body.String())
}
