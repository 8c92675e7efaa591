// Package tcp provides a framed TCP client for the relay.
package tcp

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/omochice/clinical-relay/pkg/protocol"
)

const dialTimeout = 10 * time.Second

// Client represents a TCP relay client.
type Client struct {
	address  string
	conn     net.Conn
	messages chan protocol.Message
	mu       sync.RWMutex
	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Client for the relay at address.
func New(address string) *Client {
	return &Client{
		address:  address,
		messages: make(chan protocol.Message, 10),
		done:     make(chan struct{}),
	}
}

// Connect establishes a connection to the server.
func (c *Client) Connect() error {
	conn, err := net.DialTimeout("tcp", c.address, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.receiveMessages(conn)

	return nil
}

// Disconnect closes the connection and waits for the receiver to stop.
func (c *Client) Disconnect() {
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
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

// Send writes msg as one frame.
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

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.WriteFrame(conn, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Messages returns the channel for receiving messages.
func (c *Client) Messages() <-chan protocol.Message {
	return c.messages
}

func (c *Client) receiveMessages(conn net.Conn) {
	defer c.wg.Done()
	defer close(c.messages)

	for {
		payload, err := protocol.ReadFrame(conn, 0)
		if err != nil {
			select {
			case <-c.done:
			default:
				if !errors.Is(err, protocol.ErrEndOfStream) {
					log.Printf("Error reading from server: %v", err)
				}
			}
			return
		}

		msg, err := protocol.Unmarshal(payload)
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
