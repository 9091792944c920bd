package ws

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"farmchat/internal/bus"
	"farmchat/internal/channel"
	"farmchat/internal/domain"
	"farmchat/internal/identity"
	"farmchat/internal/service"
	"farmchat/internal/typing"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns an HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or
// Sec-WebSocket-Protocol), subscribes the user's event feed, then dispatches
// inbound events:
//   - message   -> send through the message channel and broadcast
//   - mark_read -> batch read transition + read-status-changed broadcast
//   - typing    -> drive the per-conversation typing state machine
func MakeHandler(
	hub *Hub,
	provider *identity.Provider,
	convSvc *service.ConversationService,
	msgChannel *channel.Channel,
	typingSvc *typing.Service,
	events bus.Subscriber,
	allowedOrigins []string,
	logger *slog.Logger,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		principal, err := provider.FromToken(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hub.Register(principal.ID, conn)
		defer hub.Unregister(principal.ID, conn)

		sess := newConnSession(conn, principal, typingSvc)
		defer sess.close()

		// Forward the user's live feed to the socket. writeMu serializes with
		// error replies from the read loop. If the bus drops the feed while
		// the socket is still healthy, the client must reconnect and
		// re-fetch, so signal it and close the connection.
		var localCancel atomic.Bool
		feed := events.SubscribeUser(principal.ID)
		defer func() {
			localCancel.Store(true)
			feed.Cancel()
		}()
		go func() {
			if pumpFeed(sess, feed.Events) && !localCancel.Load() {
				logger.Warn("ws: event feed dropped, closing socket", "user", principal.ID)
				sess.writeMu.Lock()
				_ = conn.WriteJSON(map[string]any{"type": "subscription_lost"})
				sess.writeMu.Unlock()
				conn.Close()
			}
		}()

		ctx := r.Context()
		for {
			var payload map[string]any
			if err := conn.ReadJSON(&payload); err != nil {
				break
			}
			msgType, _ := payload["type"].(string)
			switch msgType {

			case "message":
				convID, _ := payload["conversation_id"].(string)
				content, _ := payload["content"].(string)
				clientRef, _ := payload["client_ref"].(string)
				attachments := parseAttachments(payload["attachments"])
				if convID == "" || (content == "" && len(attachments) == 0) {
					sess.sendError("message requires conversation_id and non-empty content or attachments")
					continue
				}
				if _, err := msgChannel.Send(ctx, service.SendInput{
					ConversationID: convID,
					Content:        content,
					Attachments:    attachments,
					ClientRef:      clientRef,
				}, principal.ID); err != nil {
					logger.Warn("ws: send message", "user", principal.ID, "err", err)
					sess.sendError("failed to send message")
					continue
				}
				sess.typingSent(convID)

			case "mark_read":
				convID, _ := payload["conversation_id"].(string)
				if convID == "" {
					continue
				}
				if err := msgChannel.MarkRead(ctx, convID, principal.ID); err != nil {
					logger.Warn("ws: mark_read", "user", principal.ID, "err", err)
					sess.sendError("failed to mark messages as read")
				}

			case "typing":
				convID, _ := payload["conversation_id"].(string)
				if convID == "" {
					continue
				}
				conv, err := convSvc.Get(ctx, convID, principal.ID)
				if err != nil {
					sess.sendError("not allowed for this conversation")
					continue
				}
				sess.typingInput(convID, conv.Other(principal.ID))

			default:
				logger.Warn("ws: unknown event type", "type", msgType, "user", principal.ID)
			}
		}
	}
}

// pumpFeed forwards feed events to the socket until the feed closes or a
// write fails. It reports whether the feed closed with the socket still
// writable, which means the bus dropped the subscription as a slow consumer
// rather than the connection going away.
func pumpFeed(sess *connSession, feed <-chan domain.Event) bool {
	for ev := range feed {
		sess.writeMu.Lock()
		err := sess.conn.WriteJSON(eventPayload(ev))
		sess.writeMu.Unlock()
		if err != nil {
			return false
		}
	}
	return true
}

// jsonWriter is the slice of *websocket.Conn the session writes through.
type jsonWriter interface {
	WriteJSON(v any) error
}

// connSession holds per-connection state: one typing state machine per
// conversation the client composes in, all cleared when the socket closes.
type connSession struct {
	conn      jsonWriter
	principal *identity.Principal
	typingSvc *typing.Service

	writeMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*typing.Session
}

func newConnSession(conn jsonWriter, principal *identity.Principal, typingSvc *typing.Service) *connSession {
	return &connSession{
		conn:      conn,
		principal: principal,
		typingSvc: typingSvc,
		sessions:  make(map[string]*typing.Session),
	}
}

func (s *connSession) session(conversationID, counterpartID string) *typing.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		sess = s.typingSvc.NewSession(conversationID, s.principal.ID, counterpartID)
		s.sessions[conversationID] = sess
	}
	return sess
}

func (s *connSession) typingInput(conversationID, counterpartID string) {
	s.session(conversationID, counterpartID).Input()
}

func (s *connSession) typingSent(conversationID string) {
	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	s.mu.Unlock()
	if ok {
		sess.Sent()
	}
}

func (s *connSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.Close()
	}
	s.sessions = nil
}

func (s *connSession) sendError(msg string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteJSON(map[string]any{
		"type":    "error",
		"message": msg,
	})
}

func eventPayload(ev domain.Event) map[string]any {
	payload := map[string]any{
		"type":            string(ev.Kind),
		"conversation_id": ev.ConversationID,
		"occurred_at":     ev.OccurredAt,
	}
	switch ev.Kind {
	case domain.EventMessageInserted:
		payload["message"] = ev.Message
	case domain.EventReadStatusChanged:
		payload["reader_id"] = ev.ReaderID
		payload["message_ids"] = ev.MessageIDs
	case domain.EventTypingChanged:
		payload["typing"] = ev.Typing
	}
	return payload
}

func parseAttachments(raw any) []domain.Attachment {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var atts []domain.Attachment
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := obj["kind"].(string)
		url, _ := obj["url"].(string)
		name, _ := obj["name"].(string)
		duration, _ := obj["duration_ms"].(float64)
		if url == "" {
			continue
		}
		atts = append(atts, domain.Attachment{
			Kind:       domain.AttachmentKind(kind),
			URL:        url,
			Name:       name,
			DurationMS: int64(duration),
		})
	}
	return atts
}
