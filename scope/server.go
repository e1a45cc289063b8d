package scope

import (
	"fmt"
	"log"
	"net"
	"sync"
)

// ScopeServer is scope that serves frames over a network connection to remote clients.
type ScopeServer struct {
	address string

	server     *grpcServer
	serverLock *sync.Mutex
}

// NewScopeServer creates a new scope server that listens on the given address.
func NewScopeServer(address string) *ScopeServer {
	return &ScopeServer{
		address:    address,
		server:     nil,
		serverLock: &sync.Mutex{},
	}
}

// Running indicates if the server accepts clients.
func (s *ScopeServer) Running() bool {
	s.serverLock.Lock()
	defer s.serverLock.Unlock()
	return s.server != nil
}

// Active indicates if at least one client is connected to the server.
func (s *ScopeServer) Active() bool {
	s.serverLock.Lock()
	defer s.serverLock.Unlock()
	return s.server != nil && s.server.HasStreams()
}

func (s *ScopeServer) Addr() net.Addr {
	s.serverLock.Lock()
	defer s.serverLock.Unlock()
	if s.server != nil {
		return s.server.Addr()
	}
	return nil
}

func (s *ScopeServer) Start() error {
	s.serverLock.Lock()
	defer s.serverLock.Unlock()
	if s.server != nil {
		return fmt.Errorf("scope was already started")
	}

	server, err := newGRPCServer(s.address, defaultOutBufferSize)
	if err != nil {
		return err
	}
	s.server = server

	go func() {
		err := server.Start()
		if err != nil {
			log.Printf("Scope server failed: %v", err)
		}

		s.serverLock.Lock()
		if s.server == server {
			s.server = nil
		}
		s.serverLock.Unlock()
	}()

	return nil
}

func (s *ScopeServer) Stop() {
	s.serverLock.Lock()
	server := s.server
	s.server = nil
	s.serverLock.Unlock()

	if server != nil {
		server.Stop()
	}
}

func (s *ScopeServer) currentServer() *grpcServer {
	s.serverLock.Lock()
	defer s.serverLock.Unlock()
	return s.server
}

func (s *ScopeServer) ShowTimeFrame(timeFrame *TimeFrame) {
	server := s.currentServer()
	if server == nil {
		return
	}

	frame, err := encodeTimeFrame(timeFrame)
	if err != nil {
		log.Printf("cannot encode time frame: %v", err)
		return
	}
	server.SendFrame(frame)
}

func (s *ScopeServer) ShowSpectralFrame(spectralFrame *SpectralFrame) {
	server := s.currentServer()
	if server == nil {
		return
	}

	frame, err := encodeSpectralFrame(spectralFrame)
	if err != nil {
		log.Printf("cannot encode spectral frame: %v", err)
		return
	}
	server.SendFrame(frame)
}
