package server

import (
	"context"
	"errors"
	"image/png"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ftl/tagstrainer/detector"
	"github.com/ftl/tagstrainer/protocol"
)

const (
	shutdownTimeout = 5 * time.Second
	wsWriteTimeout  = 5 * time.Second
)

// WebServer provides a JSON API to control the session and a websocket that carries the pulse protocol as text frames.
type WebServer struct {
	hub        *Hub
	controller Controller
	engine     *gin.Engine
	upgrader   websocket.Upgrader

	listener net.Listener
	server   *http.Server
	done     chan struct{}
}

func NewWebServer(address string, hub *Hub, controller Controller) (*WebServer, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	result := &WebServer{
		hub:        hub,
		controller: controller,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  protocol.MaxUpMessageSize,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		listener: listener,
		done:     make(chan struct{}),
	}
	result.engine = result.routes()
	result.server = &http.Server{Handler: result.engine}

	go func() {
		defer close(result.done)
		err := result.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("web server failed: %v", err)
		}
	}()

	return result, nil
}

func (s *WebServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *WebServer) Handler() http.Handler {
	return s.engine
}

func (s *WebServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Printf("cannot shut down web server: %v", err)
		s.server.Close()
	}
	<-s.done
}

func (s *WebServer) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	api := engine.Group("/api")
	api.GET("/status", s.getStatus)
	api.GET("/targets", s.getTargets)
	api.PUT("/targets", s.putTargets)
	api.PUT("/sdr", s.putSdrConfig)
	api.POST("/start", s.postStart)
	api.POST("/stop", s.postStop)
	api.GET("/pulses", s.getPulses)
	api.GET("/pulses.png", s.getPulseChart)
	engine.GET("/ws", s.serveWebsocket)

	return engine
}

func (s *WebServer) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *WebServer) getTargets(c *gin.Context) {
	targets := s.controller.Status().PulseTargets
	if targets == nil {
		targets = []detector.PulseTarget{}
	}
	c.JSON(http.StatusOK, targets)
}

func (s *WebServer) putTargets(c *gin.Context) {
	var targets []detector.PulseTarget
	if err := c.ShouldBindJSON(&targets); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var errs []error
	for _, target := range targets {
		errs = append(errs, target.Validate())
	}
	if err := errors.Join(errs...); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.controller.Handle(protocol.PulseTargets(targets))
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *WebServer) putSdrConfig(c *gin.Context) {
	var config detector.SdrConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := config.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.controller.Handle(protocol.SdrConfigUpdate{Config: config})
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *WebServer) postStart(c *gin.Context) {
	s.controller.Handle(protocol.Start{})
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *WebServer) postStop(c *gin.Context) {
	s.controller.Handle(protocol.Stop{})
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *WebServer) getPulses(c *gin.Context) {
	pulses := s.hub.RecentPulses()
	if pulses == nil {
		pulses = []detector.Pulse{}
	}
	c.JSON(http.StatusOK, pulses)
}

func (s *WebServer) getPulseChart(c *gin.Context) {
	chart := DrawPulseChart(s.hub.RecentPulses())
	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := png.Encode(c.Writer, chart); err != nil {
		log.Printf("cannot encode pulse chart: %v", err)
	}
}

func (s *WebServer) serveWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("cannot upgrade to websocket: %v", err)
		return
	}
	conn.SetReadLimit(protocol.MaxUpMessageSize)
	subscription := s.hub.Subscribe()
	log.Printf("new websocket client %s: %v", subscription.ID, conn.RemoteAddr())

	go func() {
		defer conn.Close()
		for msg := range subscription.Messages {
			payload, err := protocol.MarshalDown(msg)
			if err != nil {
				log.Printf("cannot marshal message: %v", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err = conn.WriteMessage(websocket.TextMessage, payload)
			if err != nil {
				log.Printf("cannot write message to websocket %s: %v", subscription.ID, err)
				return
			}
		}
	}()

	defer s.hub.Unsubscribe(subscription.ID)
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				log.Printf("cannot read next message from websocket %s: %v", subscription.ID, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			log.Printf("received wrong message type from websocket %s: %d", subscription.ID, msgType)
			continue
		}
		msg, err := protocol.UnmarshalUp(payload)
		if err != nil {
			log.Printf("invalid message from websocket %s: %v", subscription.ID, err)
			continue
		}
		s.controller.Handle(msg)
	}
}
