// Package rtl streams unsigned 8-bit I/Q samples from an rtl_tcp server.
package rtl

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/bemasher/rtltcp"

	"github.com/ftl/tagstrainer/detector"
	"github.com/ftl/tagstrainer/session"
)

const DefaultBlockSize = 16384

type Driver struct {
	address   string
	blockSize int
}

// New returns a driver for the rtl_tcp server at the given address. The block size is the number of I/Q samples per block.
func New(address string, blockSize int) *Driver {
	if blockSize < 1 {
		blockSize = DefaultBlockSize
	}
	return &Driver{
		address:   address,
		blockSize: blockSize,
	}
}

func (d *Driver) Name() string {
	return "rtltcp"
}

func (d *Driver) Run(ctx context.Context, config detector.SdrConfig, sink session.Sink) error {
	addr, err := net.ResolveTCPAddr("tcp", d.address)
	if err != nil {
		return fmt.Errorf("cannot resolve rtl_tcp address %s: %w", d.address, err)
	}

	var sdr rtltcp.SDR
	if err := sdr.Connect(addr); err != nil {
		return err
	}
	defer sdr.Close()
	log.Printf("connected to rtl_tcp at %s: %v", addr, sdr.Info)

	if err := configure(sdr, config); err != nil {
		return fmt.Errorf("cannot configure rtl_tcp: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		sdr.Close()
	})
	defer stop()

	block := make([]byte, 2*d.blockSize)
	for {
		_, err := io.ReadFull(sdr, block)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cannot read samples from rtl_tcp: %w", err)
		}
		sink.U8(block)
	}
}

// rtl-sdr tuners have one gain stage, LNA and VGA gain are combined.
func configure(sdr rtltcp.SDR, config detector.SdrConfig) error {
	if config.CenterFreq > uint64(^uint32(0)) {
		return fmt.Errorf("center frequency %d Hz out of range", config.CenterFreq)
	}
	if err := sdr.SetSampleRate(uint32(config.SampRate)); err != nil {
		return err
	}
	if err := sdr.SetCenterFreq(uint32(config.CenterFreq)); err != nil {
		return err
	}
	if err := sdr.SetGainMode(config.AutoGain); err != nil {
		return err
	}
	if !config.AutoGain {
		if err := sdr.SetGain(10 * (config.LnaGain + config.VgaGain)); err != nil {
			return err
		}
	}
	if err := sdr.SetAGCMode(config.AmpEnable); err != nil {
		return err
	}
	if config.BasebandFilter != nil {
		log.Printf("rtl_tcp does not support a baseband filter, ignoring %d Hz", *config.BasebandFilter)
	}
	return nil
}
