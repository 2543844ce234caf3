package httpapi

import (
	"context"
	"net/http"
	"strings"

	"qms/qalert/internal/hub"
	"qms/qalert/internal/session"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/sirupsen/logrus"
)

const realtimeBuffer = 16

// RealtimeHandler serves /realtime/. Anyone may follow the display topic;
// the console topic needs a staff session passed as a bearer token or as
// the session_id query parameter.
func RealtimeHandler(h *hub.Hub, sessions session.Store) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(conn sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, realtimeBuffer)}
		if token := realtimeToken(conn.Request()); token != "" {
			current, err := sessions.Current(context.Background(), token)
			if err != nil {
				_ = conn.Close(4002, "invalid session")
				return
			}
			client.Staff = current.IsStaff()
		}

		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				if err := conn.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := conn.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.Unsubscribe(client, parsed.Topic)
				continue
			}
			if !h.Subscribe(client, parsed.Topic) {
				logrus.WithFields(logrus.Fields{"client_id": client.ID, "topic": parsed.Topic}).Warn("realtime: subscription denied")
				_ = conn.Close(4003, "access denied")
				return
			}
		}
	})
}

func realtimeToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("session_id"))
}
