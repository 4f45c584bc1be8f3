package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Permitir cualquier origen (restringir en producción)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message es el sobre de todo evento empujado a la consola
type Message struct {
	Type      string      `json:"type"`
	Ejecutivo string      `json:"ejecutivo,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Client es una conexión websocket de una consola
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool // "ejecutivo:maria", "all"
}

// Hub mantiene las conexiones activas y reparte los eventos de sesión.
// Cada consola se suscribe al tópico de su ejecutivo; los tableros de
// supervisión se suscriben a "all".
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	stopChan   chan struct{}
	mu         sync.RWMutex
}

type envelope struct {
	topic   string
	payload []byte
}

// NewHub crea el hub. El dueño debe lanzar Run en una goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopChan:   make(chan struct{}),
	}
}

// Run es el bucle principal del hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WebSocket] Cliente conectado. Total: %d", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WebSocket] Cliente desconectado. Total: %d", total)

		case env := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.topics[env.topic] && !client.topics["all"] {
					continue
				}
				select {
				case client.send <- env.payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.stopChan:
			return
		}
	}
}

// Stop detiene el bucle principal
func (h *Hub) Stop() {
	close(h.stopChan)
}

// Emit publica un evento en el tópico del ejecutivo
func (h *Hub) Emit(ejecutivo, event string, data interface{}) {
	msg := Message{
		Type:      event,
		Ejecutivo: ejecutivo,
		Data:      data,
		Timestamp: time.Now(),
	}
	jsonData, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WebSocket] Error serializando mensaje: %v", err)
		return
	}

	topic := "all"
	if ejecutivo != "" {
		topic = "ejecutivo:" + ejecutivo
	}
	select {
	case h.broadcast <- envelope{topic: topic, payload: jsonData}:
	default:
		log.Printf("[WebSocket] Buffer de broadcast lleno, evento %s descartado", event)
	}
}

// ScopedNotifier publica todos los eventos bajo el tópico de un ejecutivo
type ScopedNotifier struct {
	hub       *Hub
	ejecutivo string
}

// ForEjecutivo devuelve un notificador atado al tópico del ejecutivo
func (h *Hub) ForEjecutivo(ejecutivo string) *ScopedNotifier {
	return &ScopedNotifier{hub: h, ejecutivo: ejecutivo}
}

// Notify implementa el contrato de notificación de la sesión
func (n *ScopedNotifier) Notify(event string, data interface{}) {
	n.hub.Emit(n.ejecutivo, event, data)
}

// HandleWebSocket atiende la petición de upgrade. El cliente queda suscrito
// al tópico de su ejecutivo.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, ejecutivo string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Error en upgrade: %v", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		topics: make(map[string]bool),
	}
	if ejecutivo != "" {
		client.topics["ejecutivo:"+ejecutivo] = true
	} else {
		client.topics["all"] = true
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drena mensajes del cliente: suscripciones y pongs
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Error de lectura: %v", err)
			}
			break
		}

		var subMsg struct {
			Action string `json:"action"`
			Topic  string `json:"topic"`
		}
		if json.Unmarshal(message, &subMsg) == nil {
			c.hub.mu.Lock()
			if subMsg.Action == "subscribe" && subMsg.Topic != "" {
				c.topics[subMsg.Topic] = true
			} else if subMsg.Action == "unsubscribe" {
				delete(c.topics, subMsg.Topic)
			}
			c.hub.mu.Unlock()
		}
	}
}

// writePump empuja mensajes al cliente y mantiene vivo el socket con pings
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Vaciar los mensajes encolados en el mismo frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ClientCount devuelve el número de consolas conectadas
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
