package http

import (
	"net/http"
	"strings"

	"campus-chat/sink"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

const streamSinkBuffer = 256

// streamCommand is what the client may send over an open stream:
// typing state changes for a conversation it subscribed to.
type streamCommand struct {
	Action         string    `json:"action"`
	ConversationID uuid.UUID `json:"conversation_id"`
}

// handleStream upgrades the connection and pumps change events to the
// client. Interest is declared up front with
// ?conversations=<id>,<id>; the announcement stream is implicit.
func (s *Server) handleStream(c *gin.Context) {
	p := principal(c)

	var convIDs []uuid.UUID
	if raw := c.Query("conversations"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := uuid.Parse(strings.TrimSpace(part))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
				return
			}
			convIDs = append(convIDs, id)
		}
	}

	// Authorization happens before the upgrade so a denied subscription
	// still gets a proper status code.
	channelSink := sink.NewChannelSink(streamSinkBuffer)
	subscriberID, unsubscribe, err := s.service.Subscribe(p, channelSink, convIDs...)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer unsubscribe()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("Websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	s.log.Info("Stream opened", "subscriber", subscriberID, "conversations", len(convIDs))

	// Reader side: typing commands and disconnect detection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var cmd streamCommand
			if err := ws.ReadJSON(&cmd); err != nil {
				return
			}
			switch cmd.Action {
			case "typing":
				if err := s.service.SetTyping(p, cmd.ConversationID, true); err != nil {
					s.log.Debug("Typing rejected", "subscriber", subscriberID, "error", err)
				}
			case "stop_typing":
				if err := s.service.SetTyping(p, cmd.ConversationID, false); err != nil {
					s.log.Debug("Typing rejected", "subscriber", subscriberID, "error", err)
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			s.log.Info("Stream closed", "subscriber", subscriberID)
			return
		case e := <-channelSink.Events:
			if err := ws.WriteJSON(e); err != nil {
				s.log.Info("Stream write failed, closing", "subscriber", subscriberID, "error", err)
				return
			}
		}
	}
}
