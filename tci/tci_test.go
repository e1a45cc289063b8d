package tci

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/tagstrainer/detector"
)

type fakeController struct {
	lock      sync.Mutex
	connected bool
	calls     []string
}

func (c *fakeController) record(call string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeController) Calls() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string{}, c.calls...)
}

func (c *fakeController) Connected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.connected
}

func (c *fakeController) SetIQSampleRate(rate uint64) error {
	if rate != 48000 {
		return ErrUnsupportedSampleRate
	}
	c.record(fmt.Sprintf("rate %d", rate))
	return nil
}

func (c *fakeController) SetDDS(trx int, frequency int) {
	c.record(fmt.Sprintf("dds %d %d", trx, frequency))
}

func (c *fakeController) StartIQ(trx int) {
	c.record(fmt.Sprintf("start %d", trx))
}

func (c *fakeController) StopIQ(trx int) {
	c.record(fmt.Sprintf("stop %d", trx))
}

type blockSink struct {
	blocks chan []float32
}

func (s *blockSink) U8([]byte) {}

func (s *blockSink) F32(samples []float32) {
	s.blocks <- samples
}

func runDriver(t *testing.T, driver *Driver, config detector.SdrConfig, sink *blockSink) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- driver.Run(ctx, config, sink)
	}()
	t.Cleanup(cancel)
	require.Eventually(t, func() bool { return driver.currentRun() != nil }, time.Second, time.Millisecond)
	return cancel, result
}

func TestDriver_NotConnected(t *testing.T) {
	driver := newDriver(&fakeController{}, 0)

	err := driver.Run(context.Background(), detector.SdrConfig{SampRate: 48000}, &blockSink{})

	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDriver_UnsupportedSampleRate(t *testing.T) {
	driver := newDriver(&fakeController{connected: true}, 0)

	err := driver.Run(context.Background(), detector.SdrConfig{SampRate: 2_400_000}, &blockSink{})

	assert.ErrorIs(t, err, ErrUnsupportedSampleRate)
}

func TestDriver_StreamsIQData(t *testing.T) {
	controller := &fakeController{connected: true}
	driver := newDriver(controller, 1)
	listener := &tciListener{driver: driver}
	sink := &blockSink{blocks: make(chan []float32, 10)}

	cancel, result := runDriver(t, driver, detector.SdrConfig{SampRate: 48000, CenterFreq: 7_030_000}, sink)

	data := []float32{0.1, 0.2, 0.3, 0.4}
	listener.IQData(0, 48000, []float32{9, 9})
	listener.IQData(1, 48000, data)
	data[0] = 1

	select {
	case block := <-sink.blocks:
		assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, block)
	case <-time.After(time.Second):
		assert.Fail(t, "no I/Q data received")
	}

	cancel()
	assert.NoError(t, <-result)
	assert.Equal(t, []string{"rate 48000", "dds 1 7030000", "start 1", "stop 1"}, controller.Calls())
	assert.Empty(t, sink.blocks)
}

func TestDriver_Reconnect(t *testing.T) {
	controller := &fakeController{connected: true}
	driver := newDriver(controller, 0)
	listener := &tciListener{driver: driver}
	sink := &blockSink{blocks: make(chan []float32, 10)}

	_, result := runDriver(t, driver, detector.SdrConfig{SampRate: 48000, CenterFreq: 14_000_000}, sink)

	listener.Connected(true)
	assert.Equal(t, []string{"rate 48000", "dds 0 14000000", "start 0", "rate 48000", "dds 0 14000000", "start 0"}, controller.Calls())

	controller.lock.Lock()
	controller.connected = false
	controller.lock.Unlock()
	listener.Connected(false)
	listener.Connected(false)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(time.Second):
		assert.Fail(t, "driver did not stop after disconnect")
	}
	assert.Nil(t, driver.currentRun())
}

func TestDriver_IgnoresDataWithoutRun(t *testing.T) {
	driver := newDriver(&fakeController{connected: true}, 0)
	listener := &tciListener{driver: driver}

	assert.NotPanics(t, func() {
		listener.IQData(0, 48000, []float32{1, 2})
		listener.Connected(false)
		listener.SetDDS(0, 7_000_000)
	})
}
