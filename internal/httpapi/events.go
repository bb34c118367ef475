package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/monadchat/internal/protocol"
	"github.com/antoniostano/monadchat/internal/usage"
)

// handleEventsWS pushes quota and premium changes for one address. It is the
// server-side stand-in for a browser's cross-tab storage events.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	identity, err := requestIdentity(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	notifications := s.deps.Ledger.Subscribe(ctx)
	outbound := make(chan any, 64)
	enqueue := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Keep websocket writes single-threaded; drop if the queue is saturated.
			s.observeWS("outbound_dropped", msg)
		}
	}
	enqueue(s.usageMessage(ctx, identity))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-notifications:
				if !ok {
					cancel()
					return
				}
				if ev.Payload.Identity != identity {
					continue
				}
				if !s.write(conn, s.notificationMessage(ctx, ev.Payload)) {
					cancel()
					return
				}
			case msg := <-outbound:
				if !s.write(conn, msg) {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			enqueue(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		control := parsed.(protocol.ClientControl)
		s.observeWS("inbound", control)
		switch control.Action {
		case protocol.ActionPing:
			enqueue(protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "pong"})
		case protocol.ActionRefresh:
			enqueue(s.usageMessage(ctx, identity))
		}
	}

	cancel()
	<-writerDone
}

func (s *Server) write(conn *websocket.Conn, msg any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		return false
	}
	s.observeWS("outbound", msg)
	return true
}

func (s *Server) notificationMessage(ctx context.Context, n usage.Notification) any {
	if n.Kind == usage.KindPremiumChanged {
		return protocol.PremiumChanged{
			Type:    protocol.TypePremiumChanged,
			Address: n.Identity,
			Premium: n.Premium,
		}
	}
	return s.usageMessage(ctx, n.Identity)
}

func (s *Server) usageMessage(ctx context.Context, identity string) protocol.UsageChanged {
	st := s.deps.Ledger.Snapshot(ctx, identity)
	return protocol.UsageChanged{
		Type:       protocol.TypeUsageChanged,
		Address:    st.Identity,
		Count:      st.Count,
		Remaining:  st.Remaining,
		Unlimited:  st.Unlimited,
		DailyLimit: st.DailyLimit,
		ResetIn:    st.ResetIn,
	}
}

func (s *Server) observeWS(direction string, msg any) {
	if s.metrics == nil {
		return
	}
	if t, ok := messageTypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.UsageChanged:
		return m.Type, true
	case protocol.PremiumChanged:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
