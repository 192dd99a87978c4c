package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Maelsh/dueli/pkg/middleware"
	"github.com/Maelsh/dueli/services/room"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin enforcement happens at the gateway in front of this service
	CheckOrigin: func(*http.Request) bool { return true },
}

// joinRoom upgrades the request to a websocket and subscribes the viewer to
// the challenge's room. Closing the socket, cleanly or not, is the leave.
func (h *Handler) joinRoom(c *gin.Context) {
	challengeID := c.Param("id")

	viewerID := middleware.UserID(c)
	if viewerID == "" {
		viewerID = c.Query("viewer_id")
	}
	if viewerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "viewer identity is required"})
		return
	}

	if _, err := h.challenges.Get(c.Request.Context(), challengeID); err != nil {
		c.Error(err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade failed",
			zap.String("challenge_id", challengeID), zap.Error(err))
		return
	}

	sub := h.rooms.Join(challengeID, viewerID)

	// reader: we never expect client frames, but reading is what surfaces
	// the close
	go func() {
		defer sub.Close()
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// writer: drain the subscription until the room closes it
	go func() {
		defer conn.Close()
		for ev := range sub.Events {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(room.Wrap(ev)); err != nil {
				sub.Close()
				return
			}
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()
}
