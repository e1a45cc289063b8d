package rtl

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/tagstrainer/detector"
)

type rtlCommand struct {
	Command   uint8
	Parameter uint32
}

// fakeServer speaks the rtl_tcp protocol: dongle info, then commands from the client and samples to the client.
type fakeServer struct {
	listener net.Listener
	samples  []byte

	commandsLock sync.Mutex
	commands     []rtlCommand
}

func newFakeServer(t *testing.T, samples []byte) *fakeServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	result := &fakeServer{listener: listener, samples: samples}
	go result.serve()
	t.Cleanup(func() { listener.Close() })
	return result
}

func (s *fakeServer) serve() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	binary.Write(conn, binary.BigEndian, struct {
		Magic     [4]byte
		Tuner     uint32
		GainCount uint32
	}{Magic: [4]byte{'R', 'T', 'L', '0'}, Tuner: 5, GainCount: 29})

	go func() {
		for {
			var cmd rtlCommand
			if err := binary.Read(conn, binary.BigEndian, &cmd); err != nil {
				return
			}
			s.commandsLock.Lock()
			s.commands = append(s.commands, cmd)
			s.commandsLock.Unlock()
		}
	}()

	for {
		if _, err := conn.Write(s.samples); err != nil {
			return
		}
	}
}

func (s *fakeServer) receivedCommands() []rtlCommand {
	s.commandsLock.Lock()
	defer s.commandsLock.Unlock()
	return append([]rtlCommand{}, s.commands...)
}

type countingSink struct {
	blocks int
	first  []byte
	limit  int
	cancel context.CancelFunc
}

func (s *countingSink) U8(samples []byte) {
	if s.first == nil {
		s.first = append([]byte{}, samples...)
	}
	s.blocks++
	if s.blocks >= s.limit {
		s.cancel()
	}
}

func (s *countingSink) F32([]float32) {}

func TestDriver_StreamsSamples(t *testing.T) {
	server := newFakeServer(t, []byte{0, 64, 128, 255})
	driver := New(server.listener.Addr().String(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &countingSink{limit: 10, cancel: cancel}

	err := driver.Run(ctx, detector.SdrConfig{SampRate: 2_400_000, CenterFreq: 150_000_000, AutoGain: false, LnaGain: 20, VgaGain: 10}, sink)

	require.NoError(t, err)
	assert.Equal(t, 10, sink.blocks)
	assert.Equal(t, []byte{0, 64, 128, 255, 0, 64, 128, 255, 0, 64, 128, 255, 0, 64, 128, 255}, sink.first)
	assert.Eventually(t, func() bool { return len(server.receivedCommands()) >= 5 }, time.Second, time.Millisecond)
	assert.Equal(t, []rtlCommand{
		{Command: 2, Parameter: 2_400_000},
		{Command: 1, Parameter: 150_000_000},
		{Command: 3, Parameter: 1},
		{Command: 4, Parameter: 300},
		{Command: 8, Parameter: 0},
	}, server.receivedCommands()[:5])
}

func TestDriver_ConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	listener.Close()

	err = New(address, 0).Run(context.Background(), detector.SdrConfig{SampRate: 2_400_000}, &countingSink{})

	assert.Error(t, err)
}

func TestDriver_ServerCloses(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte{'R', 'T', 'L', '0', 0, 0, 0, 5, 0, 0, 0, 29})
		io.CopyN(io.Discard, conn, 5)
		conn.Close()
	}()

	err = New(listener.Addr().String(), 0).Run(context.Background(), detector.SdrConfig{SampRate: 2_400_000, AutoGain: true}, &countingSink{})

	assert.Error(t, err)
}
