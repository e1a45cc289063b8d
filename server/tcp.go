package server

import (
	"errors"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ftl/tagstrainer/protocol"
)

const (
	newConnectionDeadline     = 100 * time.Millisecond
	connectionKeepAlivePeriod = 30 * time.Second
)

// TCPServer speaks the length prefixed pulse protocol. Up messages are handed to the controller,
// down messages come from the hub.
type TCPServer struct {
	listener   *net.TCPListener
	hub        *Hub
	controller Controller

	connectionsLock sync.Mutex
	connections     map[*connection]struct{}
	wg              sync.WaitGroup

	close     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func NewTCPServer(address string, hub *Hub, controller Controller) (*TCPServer, error) {
	localAddress, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, err
	}
	listener, err := net.ListenTCP("tcp", localAddress)
	if err != nil {
		return nil, err
	}

	result := &TCPServer{
		listener:    listener,
		hub:         hub,
		controller:  controller,
		connections: make(map[*connection]struct{}),
		close:       make(chan struct{}),
		closed:      make(chan struct{}),
	}

	go result.run()

	return result, nil
}

func (s *TCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *TCPServer) run() {
	defer close(s.closed)
	defer s.listener.Close()

	for {
		select {
		case <-s.close:
			s.connectionsLock.Lock()
			for conn := range s.connections {
				conn.Close()
			}
			s.connectionsLock.Unlock()
			s.wg.Wait()
			return
		default:
			err := s.listener.SetDeadline(time.Now().Add(newConnectionDeadline))
			if err != nil {
				log.Printf("setting the listener deadline failed: %v", err)
				return
			}
			conn, err := s.listener.AcceptTCP()
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// ignore, nobody is calling
				continue
			} else if err != nil {
				log.Println(err)
				continue
			}

			log.Printf("new incoming connection: %v", conn.RemoteAddr())
			conn.SetKeepAlivePeriod(connectionKeepAlivePeriod)
			conn.SetKeepAlive(true)
			s.serve(conn)
		}
	}
}

func (s *TCPServer) serve(conn net.Conn) {
	c := &connection{
		conn:         conn,
		protocolConn: protocol.NewConn(conn),
		subscription: s.hub.Subscribe(),
	}

	s.connectionsLock.Lock()
	s.connections[c] = struct{}{}
	s.connectionsLock.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.readLoop(s.controller)
		s.hub.Unsubscribe(c.subscription.ID)
	}()
	go func() {
		defer s.wg.Done()
		c.writeLoop()
		c.Close()

		s.connectionsLock.Lock()
		delete(s.connections, c)
		s.connectionsLock.Unlock()
		log.Printf("connection %s closed", c.String())
	}()
}

func (s *TCPServer) Stop() {
	s.closeOnce.Do(func() {
		close(s.close)
	})
	<-s.closed
}

type connection struct {
	conn         net.Conn
	protocolConn *protocol.Conn
	subscription *Subscription
	closeOnce    sync.Once
}

func (c *connection) String() string {
	return c.subscription.ID.String() + "@" + c.conn.RemoteAddr().String()
}

func (c *connection) Close() {
	c.closeOnce.Do(func() {
		err := c.conn.Close()
		if err != nil {
			log.Printf("close %s: %v", c.String(), err)
		}
	})
}

// readLoop ends when the connection is closed or the client sends an invalid or oversized message.
func (c *connection) readLoop(controller Controller) {
	for {
		msg, err := c.protocolConn.ReadUp()
		if errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			return
		} else if err != nil {
			log.Printf("%s: %v", c.String(), err)
			c.Close()
			return
		}
		controller.Handle(msg)
	}
}

// writeLoop ends when the subscription ends or writing fails.
func (c *connection) writeLoop() {
	for msg := range c.subscription.Messages {
		err := c.protocolConn.WriteDown(msg)
		if err != nil {
			log.Printf("%s: %v", c.String(), err)
			return
		}
	}
}
