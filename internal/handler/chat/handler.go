package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/modechat/backend/internal/model/chat"
	"github.com/zhouzirui/modechat/backend/internal/observability"
	chatService "github.com/zhouzirui/modechat/backend/internal/service/chat"
	"github.com/zhouzirui/modechat/backend/internal/service/prompt"
	"github.com/zhouzirui/modechat/backend/internal/service/session"
	"github.com/zhouzirui/modechat/backend/pkg/utils"
)

// Store is the chat store surface used by the handler.
type Store interface {
	List(ctx context.Context) []chat.Summary
	Get(ctx context.Context, id string) (chat.Chat, error)
	Create(ctx context.Context, title string, initial ...chat.Message) (string, error)
	Delete(ctx context.Context, id string) error
}

// TurnHandler runs a conversational turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, in session.TurnInput) (session.TurnOutput, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	store Store
	turns TurnHandler
}

// New 创建聊天处理器
func New(store Store, turns TurnHandler) *Handler {
	return &Handler{store: store, turns: turns}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chats", h.handleListChats)
	r.Post("/chats", h.handleNewChat)
	r.Get("/chats/{chatID}", h.handleGetChat)
	r.Delete("/chats/{chatID}", h.handleDeleteChat)
	r.Post("/chat", h.handleTurn)
	r.Get("/modes", h.handleListModes)
}

// handleListChats 列出会话
func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.store.List(r.Context()))
}

// handleNewChat 创建空会话
func (h *Handler) handleNewChat(w http.ResponseWriter, r *http.Request) {
	id, err := h.store.Create(r.Context(), chat.DefaultTitle)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleGetChat 返回会话消息
func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.Get(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, record.Messages)
}

// handleDeleteChat 删除会话
func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTurn 处理一轮对话
func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ChatID  string `json:"chat_id"`
		Mode    string `json:"mode"`
		Message string `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.turns.HandleTurn(r.Context(), session.TurnInput{
		ChatID:  payload.ChatID,
		Mode:    payload.Mode,
		Message: payload.Message,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"chat_id": out.ChatID,
		"mode":    out.Mode,
		"reply":   out.Reply,
	})
}

// handleListModes 列出可用模式
func (h *Handler) handleListModes(w http.ResponseWriter, _ *http.Request) {
	modes := prompt.Modes()
	names := make([]string, 0, len(modes))
	for _, m := range modes {
		names = append(names, m.Name())
	}
	utils.RespondJSON(w, http.StatusOK, names)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context(), nil).Error("chat request failed", "error", err, "status", status)
	}
	utils.RespondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, prompt.ErrInvalidMode), errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrProviderTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
