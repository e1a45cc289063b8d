package server

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/tagstrainer/detector"
	"github.com/ftl/tagstrainer/protocol"
)

func startTCPServer(t *testing.T) (*TCPServer, *Hub, *fakeController) {
	t.Helper()
	hub := NewHub(10, 10)
	controller := &fakeController{}
	server, err := NewTCPServer("127.0.0.1:0", hub, controller)
	require.NoError(t, err)
	t.Cleanup(func() {
		server.Stop()
		hub.Close()
	})
	return server, hub, controller
}

func TestTCPServer_UpMessagesReachController(t *testing.T) {
	server, _, controller := startTCPServer(t)
	netConn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer netConn.Close()
	conn := protocol.NewConn(netConn)

	targets := protocol.PulseTargets{{Freq: 150_100_000, Duration: 0.02, EdgeLength: 5, PeakLookahead: 2}}
	require.NoError(t, conn.WriteUp(targets))
	require.NoError(t, conn.WriteUp(protocol.SdrConfigUpdate{Config: detector.SdrConfig{SampRate: 1_024_000, CenterFreq: 150_000_000}}))
	require.NoError(t, conn.WriteUp(protocol.Start{}))

	assert.Eventually(t, func() bool { return len(controller.Messages()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []protocol.UpMessage{
		targets,
		protocol.SdrConfigUpdate{Config: detector.SdrConfig{SampRate: 1_024_000, CenterFreq: 150_000_000}},
		protocol.Start{},
	}, controller.Messages())
}

func TestTCPServer_BroadcastsPulses(t *testing.T) {
	server, hub, _ := startTCPServer(t)
	var conns []*protocol.Conn
	for range 2 {
		netConn, err := net.Dial("tcp", server.Addr().String())
		require.NoError(t, err)
		defer netConn.Close()
		conns = append(conns, protocol.NewConn(netConn))
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, time.Millisecond)

	hub.Publish(testPulse(3, 0.25))

	for _, conn := range conns {
		msg, err := conn.ReadDown()
		require.NoError(t, err)
		assert.Equal(t, protocol.PulseMessage{Pulse: testPulse(3, 0.25)}, msg)
	}
}

func TestTCPServer_ClosesConnectionOnOversizedMessage(t *testing.T) {
	server, hub, controller := startTCPServer(t)
	netConn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer netConn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], protocol.MaxUpMessageSize+1)
	_, err = netConn.Write(header[:])
	require.NoError(t, err)

	netConn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = netConn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, controller.Messages())
}

func TestTCPServer_ClientDisconnects(t *testing.T) {
	server, hub, _ := startTCPServer(t)
	netConn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	netConn.Close()

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, time.Millisecond)
}

func TestTCPServer_Stop(t *testing.T) {
	server, _, _ := startTCPServer(t)
	netConn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer netConn.Close()

	server.Stop()
	server.Stop()

	netConn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = netConn.Read(make([]byte, 1))
	assert.Error(t, err)
	_, err = net.DialTimeout("tcp", server.Addr().String(), 100*time.Millisecond)
	assert.Error(t, err)
}

func TestTCPServer_ConcurrentStop(t *testing.T) {
	server, _, _ := startTCPServer(t)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotPanics(t, server.Stop)
		}()
	}
	wg.Wait()

	_, err := net.DialTimeout("tcp", server.Addr().String(), 100*time.Millisecond)
	assert.Error(t, err)
}
