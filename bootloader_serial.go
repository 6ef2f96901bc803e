package squidboot

import (
	"time"

	"github.com/tarm/serial"
)

type serialBootloader struct {
	*streamBootloader
	portConfig serial.Config
}

// NewSerialBootloader creates a new bootloader using the serial transport.
func NewSerialBootloader(port string, baud int, opts Options) (Bootloader, error) {
	b := &serialBootloader{
		streamBootloader: &streamBootloader{opts: opts, eofIsTimeout: true},
	}

	b.portConfig.Baud = baud
	b.portConfig.Name = port
	// Short reads let the receive loop notice a disconnect; the response
	// timeout is applied separately.
	b.portConfig.ReadTimeout = 100 * time.Millisecond

	return b, nil
}

func (b *serialBootloader) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frames != nil {
		return nil
	}

	port, err := serial.OpenPort(&b.portConfig)
	if err != nil {
		return err
	}
	// On Linux with USB serial ports, in order for flush to work properly
	// we need to delay a little before flushing to make sure that any
	// received data has made its way up the driver stack.
	// See https://stackoverflow.com/questions/13013387/clearing-the-serial-ports-buffer
	time.Sleep(time.Millisecond * 100)
	port.Flush()
	b.attach(port)
	return nil
}
