package server

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/ftl/tagstrainer/protocol"
)

const (
	DefaultReconnectInterval = 5 * time.Second
	dialTimeout              = 10 * time.Second
	clientBufferSize         = 100
)

// Client keeps a connection to a pulse server. The initial messages are sent again after every reconnect.
type Client struct {
	address           string
	initial           []protocol.UpMessage
	reconnectInterval time.Duration

	connLock sync.Mutex
	conn     *protocol.Conn

	messages chan protocol.DownMessage
}

func NewClient(address string, initial ...protocol.UpMessage) *Client {
	return &Client{
		address:           address,
		initial:           initial,
		reconnectInterval: DefaultReconnectInterval,
		messages:          make(chan protocol.DownMessage, clientBufferSize),
	}
}

func (c *Client) SetReconnectInterval(interval time.Duration) {
	c.reconnectInterval = interval
}

// Messages is closed when Run returns.
func (c *Client) Messages() <-chan protocol.DownMessage {
	return c.messages
}

// Send writes the message to the current connection.
func (c *Client) Send(msg protocol.UpMessage) error {
	c.connLock.Lock()
	conn := c.conn
	c.connLock.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	return conn.WriteUp(msg)
}

// Run connects to the server and reconnects until the context is done.
func (c *Client) Run(ctx context.Context) {
	defer close(c.messages)
	for {
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("connection to %s lost: %v, reconnecting in %v", c.address, err, c.reconnectInterval)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectInterval):
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return err
	}
	defer netConn.Close()
	stop := context.AfterFunc(ctx, func() {
		netConn.Close()
	})
	defer stop()
	log.Printf("connected to %s", c.address)

	conn := protocol.NewConn(netConn)
	for _, msg := range c.initial {
		if err := conn.WriteUp(msg); err != nil {
			return err
		}
	}

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()
	defer func() {
		c.connLock.Lock()
		c.conn = nil
		c.connLock.Unlock()
	}()

	for {
		msg, err := conn.ReadDown()
		if err != nil {
			return err
		}
		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
