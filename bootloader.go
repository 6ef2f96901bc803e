// Package squidboot is the host side of the squidboot bootloader protocol.
//
// The package contains two main components: Bootloader and Programmer.
// Bootloader provides a transport-agnostic way of issuing the individual
// bootloader requests. Programmer provides a high-level programming
// interface, allowing HEX or binary images to be loaded, programmed and
// verified. It uses a provided Bootloader to communicate with the device.
//
// Also included are two command line tools: cmd/squidboot, a fully
// functional host program, and cmd/squidnode, a simulated device serving
// the protocol on a serial port.
package squidboot

import (
	"fmt"

	"github.com/amrbekhit/squidboot/settings"
	"github.com/amrbekhit/squidboot/wire"
)

// The Bootloader interface allows low-level interaction with the bootloader in a transport-agnostic fashion.
// For higher level programming operations, use the Programmer interface.
//
// A request rejected by the device returns a *CommandError.
type Bootloader interface {
	Connect() error
	Disconnect()
	Ping(n uint32) (uint32, error)
	GetParameters() (wire.Parameters, error)
	StartBootload(startAddr, length, crc uint32) error
	// WriteChunk sends one chunk and returns the device's checksum of
	// every byte accepted so far in the session.
	WriteChunk(addr uint32, data []byte) (uint32, error)
	CompleteBootload(reboot bool) (bool, error)
	AbortBootload() error
	GetSettings() (settings.Blob, error)
	WriteSettings(data []byte) error
	GetStatus() (wire.Status, error)
	ReadRange(addr, length uint32) ([]byte, error)
	IsBootable() (wire.Bootable, error)
	Boot(cmd wire.BootCommand) (bool, wire.Bootable, error)
}

// CommandError is a request the device understood and rejected.
type CommandError struct {
	Request string
	Err     wire.ResponseError
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Request, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// expects reports whether resp is the response kind for req. Chunk and
// range replies must also name the requested address, since a retried
// request can leave a late reply for the previous address in flight.
func expects(req wire.Request, resp wire.Response) bool {
	switch r := req.(type) {
	case wire.PingRequest:
		_, ok := resp.(wire.Pong)
		return ok
	case wire.GetParametersRequest:
		_, ok := resp.(wire.ParametersResponse)
		return ok
	case wire.StartBootloadRequest:
		_, ok := resp.(wire.BootloadStarted)
		return ok
	case wire.DataChunkRequest:
		ack, ok := resp.(wire.ChunkAccepted)
		return ok && ack.DataAddr == r.DataAddr
	case wire.CompleteBootloadRequest:
		_, ok := resp.(wire.ConfirmComplete)
		return ok
	case wire.GetSettingsRequest:
		_, ok := resp.(wire.SettingsResponse)
		return ok
	case wire.WriteSettingsRequest:
		_, ok := resp.(wire.SettingsAccepted)
		return ok
	case wire.GetStatusRequest:
		_, ok := resp.(wire.StatusResponse)
		return ok
	case wire.ReadRangeRequest:
		data, ok := resp.(wire.RangeData)
		return ok && data.StartAddr == r.StartAddr
	case wire.AbortBootloadRequest:
		_, ok := resp.(wire.BootloadAborted)
		return ok
	case wire.IsBootableRequest:
		_, ok := resp.(wire.BootableStatus)
		return ok
	case wire.BootRequest:
		_, ok := resp.(wire.ConfirmBootCmd)
		return ok
	}
	return false
}

// expectsError reports whether err can be the rejection of req.
func expectsError(req wire.Request, err wire.ResponseError) bool {
	switch e := err.(type) {
	case wire.BadStartAddress, wire.BadLength, wire.BootloadInProgress:
		_, ok := req.(wire.StartBootloadRequest)
		return ok
	case wire.SkippedRange:
		switch r := req.(type) {
		case wire.DataChunkRequest:
			return e.Actual == r.DataAddr
		case wire.CompleteBootloadRequest:
			return e.Actual == wire.NoAddress
		}
		return false
	case wire.IncorrectLength, wire.BadSubCRC, wire.TooManyChunks:
		_, ok := req.(wire.DataChunkRequest)
		return ok
	case wire.IncompleteLoad, wire.BadFullCRC:
		_, ok := req.(wire.CompleteBootloadRequest)
		return ok
	case wire.NoBootloadActive:
		_, ok := req.(wire.AbortBootloadRequest)
		return ok
	case wire.SettingsTooLong, wire.BadSettingsCRC, wire.SettingsFault:
		_, ok := req.(wire.WriteSettingsRequest)
		return ok
	case wire.BadRangeStart, wire.BadRangeEnd, wire.BadRangeLength:
		_, ok := req.(wire.ReadRangeRequest)
		return ok
	case wire.FlashFault:
		switch r := req.(type) {
		case wire.DataChunkRequest:
			return true
		case wire.ReadRangeRequest:
			return e.Addr == r.StartAddr
		}
		return false
	}
	return true
}
