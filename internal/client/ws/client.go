// Package ws provides a WebSocket client for the relay's /ws endpoint.
package ws

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/omochice/clinical-relay/pkg/protocol"
)

const (
	dialTimeout = 10 * time.Second
	readLimit   = 16 << 20
)

// Client represents a WebSocket relay client.
type Client struct {
	url      string
	conn     *websocket.Conn
	messages chan protocol.Message
	mu       sync.RWMutex
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Client for the endpoint at url, e.g. ws://host:port/ws.
func New(url string) *Client {
	return &Client{
		url:      url,
		messages: make(chan protocol.Message, 10),
		done:     make(chan struct{}),
	}
}

// Connect establishes a WebSocket connection to the server.
func (c *Client) Connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.receiveMessages(conn)

	return nil
}

// Disconnect closes the WebSocket connection.
func (c *Client) Disconnect() {
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "")
		c.conn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Send writes msg as one text message.
func (c *Client) Send(msg protocol.Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected to server")
	}

	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}

	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Messages returns the channel for receiving messages.
func (c *Client) Messages() <-chan protocol.Message {
	return c.messages
}

func (c *Client) receiveMessages(conn *websocket.Conn) {
	defer c.wg.Done()
	defer close(c.messages)

	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			select {
			case <-c.done:
			default:
				if !isNormalClose(err) {
					log.Printf("Error reading from server: %v", err)
				}
			}
			return
		}

		msg, err := protocol.Unmarshal(data)
		if err != nil {
			log.Printf("Failed to decode message: %v", err)
			continue
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

// isNormalClose reports whether err ended the stream with a close frame.
func isNormalClose(err error) bool {
	return websocket.CloseStatus(err) != -1
}
