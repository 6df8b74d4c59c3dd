package api

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"stockipv/server/internal/services"
)

type hubMessage struct {
	workplaceID string
	data        []byte
}

// Hub рассылает события смен подключенным по WebSocket экранам.
// Клиент может подписаться на одно рабочее место.
type Hub struct {
	clients   map[*websocket.Conn]string // conn -> workplace_id ("" - все)
	broadcast chan hubMessage
	mutex     sync.RWMutex
}

// GlobalHub - хаб экранов смен
var GlobalHub = NewHub()

// NewHub создает хаб с буферизованным каналом рассылки
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan hubMessage, 256),
	}
}

// Run рассылает сообщения до отмены ctx
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			var failed []*websocket.Conn
			h.mutex.RLock()
			for client, wp := range h.clients {
				if wp != "" && msg.workplaceID != "" && wp != msg.workplaceID {
					continue
				}
				if err := client.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					failed = append(failed, client)
				}
			}
			h.mutex.RUnlock()
			for _, client := range failed {
				h.RemoveClient(client)
			}
		}
	}
}

// AddClient добавляет клиента с фильтром по рабочему месту
func (h *Hub) AddClient(conn *websocket.Conn, workplaceID string) {
	h.mutex.Lock()
	h.clients[conn] = workplaceID
	h.mutex.Unlock()
}

// RemoveClient удаляет клиента
func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mutex.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mutex.Unlock()
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mutex.Unlock()
}

// BroadcastMessage отправляет сообщение клиентам рабочего места (и подписанным на все)
func (h *Hub) BroadcastMessage(workplaceID string, message []byte) {
	select {
	case h.broadcast <- hubMessage{workplaceID: workplaceID, data: message}:
	default:
		// Канал переполнен - пропускаем, экраны догонят при следующем событии
	}
}

// Publish отправляет событие смены в WebSocket
func (h *Hub) Publish(_ context.Context, ev services.TurnEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.BroadcastMessage(ev.WorkplaceID, data)
	return nil
}

// GetClientsCount возвращает количество подключенных клиентов
func (h *Hub) GetClientsCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
