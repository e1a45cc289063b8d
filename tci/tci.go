// Package tci streams float I/Q samples from an SDR application that speaks the TCI protocol.
package tci

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	tci "github.com/ftl/tci/client"

	"github.com/ftl/tagstrainer/cli"
	"github.com/ftl/tagstrainer/detector"
	"github.com/ftl/tagstrainer/session"
)

const (
	defaultHostname = "localhost"
	defaultPort     = 40001
	timeout         = 10 * time.Second
	iqBufferSize    = 100
)

var (
	ErrNotConnected          = errors.New("TCI not connected")
	ErrUnsupportedSampleRate = errors.New("unsupported TCI I/Q sample rate")
)

// controller is the part of the TCI client that the driver uses.
type controller interface {
	Connected() bool
	SetIQSampleRate(rate uint64) error
	SetDDS(trx int, frequency int)
	StartIQ(trx int)
	StopIQ(trx int)
}

type Driver struct {
	client controller
	trx    int

	runLock sync.Mutex
	run     *iqRun
}

type iqRun struct {
	data         chan []float32
	disconnected chan struct{}
	once         sync.Once
	reconfigure  func()
}

// New connects to the TCI server at the given host and keeps the connection open.
func New(host string, trx int, traceTCI bool) (*Driver, error) {
	tcpHost, err := cli.ParseTCPAddrArg(host, defaultHostname, defaultPort)
	if err != nil {
		return nil, fmt.Errorf("invalid TCI host: %w", err)
	}
	if tcpHost.Port == 0 {
		tcpHost.Port = defaultPort
	}

	c := tci.KeepOpen(tcpHost, timeout, traceTCI)
	result := newDriver(&tciController{client: c}, trx)
	c.Notify(&tciListener{driver: result})

	return result, nil
}

func newDriver(client controller, trx int) *Driver {
	return &Driver{
		client: client,
		trx:    trx,
	}
}

func (d *Driver) Name() string {
	return "tci"
}

func (d *Driver) Run(ctx context.Context, config detector.SdrConfig, sink session.Sink) error {
	if !d.client.Connected() {
		return ErrNotConnected
	}

	run := &iqRun{
		data:         make(chan []float32, iqBufferSize),
		disconnected: make(chan struct{}),
	}
	run.reconfigure = func() {
		if err := d.configure(config); err != nil {
			log.Printf("cannot configure TCI: %v", err)
		}
	}
	if err := d.configure(config); err != nil {
		return err
	}

	d.runLock.Lock()
	d.run = run
	d.runLock.Unlock()
	defer func() {
		d.runLock.Lock()
		d.run = nil
		d.runLock.Unlock()
		if d.client.Connected() {
			d.client.StopIQ(d.trx)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-run.disconnected:
			return ErrNotConnected
		case data := <-run.data:
			sink.F32(data)
		}
	}
}

func (d *Driver) configure(config detector.SdrConfig) error {
	if err := d.client.SetIQSampleRate(config.SampRate); err != nil {
		return err
	}
	d.client.SetDDS(d.trx, int(config.CenterFreq))
	d.client.StartIQ(d.trx)
	return nil
}

func (d *Driver) currentRun() *iqRun {
	d.runLock.Lock()
	defer d.runLock.Unlock()
	return d.run
}

func (d *Driver) onConnected(connected bool) {
	run := d.currentRun()
	if run == nil {
		return
	}
	if connected {
		run.reconfigure()
		return
	}
	run.once.Do(func() {
		close(run.disconnected)
	})
}

func (d *Driver) onIQData(trx int, data []float32) {
	if trx != d.trx {
		return
	}
	run := d.currentRun()
	if run == nil {
		return
	}

	select {
	case run.data <- append([]float32{}, data...):
	default:
		log.Printf("TCI I/Q data skipped")
	}
}

type tciListener struct {
	driver *Driver
}

func (l *tciListener) Connected(connected bool) {
	l.driver.onConnected(connected)
}

func (l *tciListener) SetDDS(trx int, frequency int) {
	if trx != l.driver.trx {
		return
	}
	log.Printf("TCI DDS frequency of trx %d: %d Hz", trx, frequency)
}

func (l *tciListener) IQData(trx int, _ tci.IQSampleRate, data []float32) {
	l.driver.onIQData(trx, data)
}

type tciController struct {
	client *tci.Client
}

func (c *tciController) Connected() bool {
	return c.client.Connected()
}

// SetIQSampleRate accepts only the rates a TCI server can stream.
func (c *tciController) SetIQSampleRate(rate uint64) error {
	switch rate {
	case 48000:
		c.client.SetIQSampleRate(48000)
	case 96000:
		c.client.SetIQSampleRate(96000)
	case 192000:
		c.client.SetIQSampleRate(192000)
	case 384000:
		c.client.SetIQSampleRate(384000)
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedSampleRate, rate)
	}
	return nil
}

func (c *tciController) SetDDS(trx int, frequency int) {
	c.client.SetDDS(trx, frequency)
}

func (c *tciController) StartIQ(trx int) {
	c.client.StartIQ(trx)
}

func (c *tciController) StopIQ(trx int) {
	c.client.StopIQ(trx)
}
