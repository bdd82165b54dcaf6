// Package uart provides a driver for the 16550-compatible COM ports that
// QEMU and most chipsets expose. The kernel uses COM1 as its debug console:
// once the driver initializes, it becomes the kfmt output sink so bring-up
// and panic diagnostics are visible outside the machine.
package uart

import (
	"io"

	"maystorm/device"
	"maystorm/kernel"
	"maystorm/kernel/cpu"
)

const (
	com1IOBase = uint16(0x3f8)

	regData       = 0 // also divisor low byte while DLAB is set
	regIntEnable  = 1 // also divisor high byte while DLAB is set
	regFIFOCtrl   = 2
	regLineCtrl   = 3
	regModemCtrl  = 4
	regLineStatus = 5
	regScratch    = 7

	lineStatusTxEmpty = 1 << 5

	// 115200 baud, 8 data bits, no parity, one stop bit.
	divisor115200 = 1
)

var (
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	errNotPresent = &kernel.Error{Module: "uart", Message: "COM port not present"}
)

// ComPort is a 16550 driver bound to a single port I/O base address. It
// implements io.Writer so it can serve as the kfmt output sink.
type ComPort struct {
	ioBase uint16
}

// Write sends the contents of p out of the serial line, translating "\n"
// into "\r\n" so terminal emulators render line breaks correctly.
func (c *ComPort) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			c.putByte('\r')
		}
		c.putByte(b)
	}
	return len(p), nil
}

func (c *ComPort) putByte(b uint8) {
	for portReadByteFn(c.ioBase+regLineStatus)&lineStatusTxEmpty == 0 {
	}
	portWriteByteFn(c.ioBase+regData, b)
}

// DriverName returns the name of the driver.
func (c *ComPort) DriverName() string { return "uart_16550" }

// DriverVersion returns the driver version.
func (c *ComPort) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit programs the port for 115200 8N1 operation with FIFOs enabled.
func (c *ComPort) DriverInit(_ io.Writer) *kernel.Error {
	portWriteByteFn(c.ioBase+regIntEnable, 0x00) // mask UART interrupts
	portWriteByteFn(c.ioBase+regLineCtrl, 0x80)  // DLAB on
	portWriteByteFn(c.ioBase+regData, divisor115200&0xff)
	portWriteByteFn(c.ioBase+regIntEnable, divisor115200>>8)
	portWriteByteFn(c.ioBase+regLineCtrl, 0x03) // 8N1, DLAB off
	portWriteByteFn(c.ioBase+regFIFOCtrl, 0xc7) // enable + clear FIFOs
	portWriteByteFn(c.ioBase+regModemCtrl, 0x0b)
	return nil
}

func probeForComPort() device.Driver {
	// The scratch register retains arbitrary values only when a UART is
	// actually decoding this I/O range.
	portWriteByteFn(com1IOBase+regScratch, 0x5a)
	if portReadByteFn(com1IOBase+regScratch) != 0x5a {
		return nil
	}
	return &ComPort{ioBase: com1IOBase}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForComPort,
	})
}
