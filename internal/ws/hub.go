package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mogakjak-gateway/internal/models"
)

const writeWait = 10 * time.Second

// Client is one browser websocket. Writes are serialized.
type Client struct {
	conn *websocket.Conn
	info ConnInfo

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{conn: conn, info: info}
}

func (c *Client) Info() ConnInfo { return c.info }

// Send writes event as a JSON text frame.
func (c *Client) Send(event models.GroupEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame and closes the socket once.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// Hub tracks active bridge connections per group and per user.
type Hub struct {
	groupRooms map[string]map[*Client]bool
	userRooms  map[string]map[*Client]bool
	mu         sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		groupRooms: make(map[string]map[*Client]bool),
		userRooms:  make(map[string]map[*Client]bool),
	}
}

// AddGroupClient registers a connection watching a group.
func (h *Hub) AddGroupClient(groupID string, client *Client) {
	h.add(h.groupRooms, groupID, client)
}

// RemoveGroupClient removes a group connection.
func (h *Hub) RemoveGroupClient(groupID string, client *Client) {
	h.remove(h.groupRooms, groupID, client)
}

// AddUserClient registers a connection watching a user's notifications.
func (h *Hub) AddUserClient(userID string, client *Client) {
	h.add(h.userRooms, userID, client)
}

// RemoveUserClient removes a user connection.
func (h *Hub) RemoveUserClient(userID string, client *Client) {
	h.remove(h.userRooms, userID, client)
}

func (h *Hub) GroupClientCount(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groupRooms[groupID])
}

func (h *Hub) UserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userRooms[userID])
}

// BroadcastGroup sends event to every connection of a group.
func (h *Hub) BroadcastGroup(groupID string, event models.GroupEvent) {
	h.broadcast(kindGroup, h.groupRooms, groupID, event)
}

// BroadcastUser sends event to every connection of a user.
func (h *Hub) BroadcastUser(userID string, event models.GroupEvent) {
	h.broadcast(kindUser, h.userRooms, userID, event)
}

// CloseAll closes every registered connection, e.g. on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var clients []*Client
	for _, rooms := range []map[string]map[*Client]bool{h.groupRooms, h.userRooms} {
		for _, conns := range rooms {
			for c := range conns {
				clients = append(clients, c)
			}
		}
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Hub) add(rooms map[string]map[*Client]bool, id string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := rooms[id]; !ok {
		rooms[id] = make(map[*Client]bool)
	}
	rooms[id][client] = true
}

func (h *Hub) remove(rooms map[string]map[*Client]bool, id string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := rooms[id]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(rooms, id)
		}
	}
}

func (h *Hub) broadcast(kind string, rooms map[string]map[*Client]bool, id string, event models.GroupEvent) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(rooms[id]))
	for c := range rooms[id] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.Send(event); err != nil {
			log.Printf("websocket write error: %v", err)
			c.Close(websocket.CloseInternalServerErr, "write failed")
			h.remove(rooms, id, c)
			publishLifecycle(context.Background(), kind, id, "ws_error", c.info, err.Error())
		}
	}
}
