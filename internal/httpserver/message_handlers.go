package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"farmchat/internal/domain"
	"farmchat/internal/service"
	"farmchat/internal/typing"
)

type messageCreateRequest struct {
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments"`
	ClientRef   string              `json:"client_ref"`
}

func handleCreateMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := CurrentPrincipal(r)
		if principal == nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		msg, err := msgSvc.Send(r.Context(), service.SendInput{
			ConversationID: chi.URLParam(r, "conversationID"),
			Content:        req.Content,
			Attachments:    req.Attachments,
			ClientRef:      req.ClientRef,
		}, principal.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleListMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := CurrentPrincipal(r)
		if principal == nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		conversationID := chi.URLParam(r, "conversationID")

		var (
			msgs []*domain.Message
			err  error
		)
		if after := r.URL.Query().Get("after_seq"); after != "" {
			seq, parseErr := strconv.ParseInt(after, 10, 64)
			if parseErr != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid after_seq"})
				return
			}
			msgs, err = msgSvc.ListSince(r.Context(), conversationID, principal.ID, seq)
		} else {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			msgs, err = msgSvc.List(r.Context(), conversationID, principal.ID, limit)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		if msgs == nil {
			msgs = []*domain.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleMarkRead(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := CurrentPrincipal(r)
		if principal == nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		if err := msgSvc.MarkRead(r.Context(), chi.URLParam(r, "conversationID"), principal.ID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleCounterpartTyping reports whether the other participant is currently
// composing, with the staleness guard applied.
func handleCounterpartTyping(convSvc *service.ConversationService, typingSvc *typing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := CurrentPrincipal(r)
		if principal == nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		conv, err := convSvc.Get(r.Context(), chi.URLParam(r, "conversationID"), principal.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		isTyping, err := typingSvc.CounterpartTyping(r.Context(), conv.ID, conv.Other(principal.ID))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"is_typing": isTyping})
	}
}
