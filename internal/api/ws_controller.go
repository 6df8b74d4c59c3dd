package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"stockipv/server/internal/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Экраны смен открываются с разных доменов касс
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS WebSocket лента событий смен
// GET /ws/ipv?workplace_id=xxx
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warnf("⚠️ Ошибка обновления WebSocket соединения: %v", err)
		return
	}

	workplaceID := c.Query("workplace_id")
	h.AddClient(conn, workplaceID)
	logger.Log.Infof("📱 Экран смен подключен (рабочее место %q). Всего подключений: %d", workplaceID, h.GetClientsCount())

	defer func() {
		h.RemoveClient(conn)
		logger.Log.Infof("📱 Экран смен отключен. Осталось подключений: %d", h.GetClientsCount())
	}()

	// Читаем только для обработки ping/close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warnf("⚠️ WebSocket ошибка: %v", err)
			}
			break
		}
	}
}
