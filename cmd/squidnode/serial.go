package main

import (
	"io"
	"time"

	"github.com/tarm/serial"
)

// pollInterval bounds how long a read blocks, so the port is closed promptly
// on shutdown.
const pollInterval = 100 * time.Millisecond

// serialPort reports a read timeout as an empty read instead of io.EOF, so
// an idle line does not end the session.
type serialPort struct {
	*serial.Port
}

func openSerial(name string, baud int) (*serialPort, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: pollInterval,
	})
	if err != nil {
		return nil, err
	}
	return &serialPort{port}, nil
}

func (p *serialPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if err == io.EOF {
		err = nil
	}
	return n, err
}
