package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"farmchat/internal/domain"
	"farmchat/internal/service"
)

type resolveRequest struct {
	ListingID      *string `json:"listing_id"`
	CounterpartyID string  `json:"counterparty_id"`
}

// handleResolveConversation finds or creates the conversation between the
// caller and the counterparty for a listing.
func handleResolveConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := CurrentPrincipal(r)
		if principal == nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		conv, err := convSvc.Resolve(r.Context(), req.ListingID, req.CounterpartyID, principal.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

// handleListInbox returns the caller's conversation summaries; ?q= filters by
// counterpart name or listing title.
func handleListInbox(inboxSvc *service.InboxService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := CurrentPrincipal(r)
		if principal == nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		var (
			summaries []domain.ConversationSummary
			err       error
		)
		if q := r.URL.Query().Get("q"); q != "" {
			summaries, err = inboxSvc.Search(r.Context(), principal.ID, q)
		} else {
			summaries, err = inboxSvc.List(r.Context(), principal.ID)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func handleGetConversation(convSvc *service.ConversationService) http.HandlerFunc {
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
		writeJSON(w, http.StatusOK, conv)
	}
}

// handleUnreadTotal returns the global unread badge for the caller.
func handleUnreadTotal(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := CurrentPrincipal(r)
		if principal == nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		total, err := msgSvc.UnreadTotal(r.Context(), principal.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"unread": total})
	}
}
