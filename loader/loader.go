// Package loader implements the bootload session: a declared image is
// accepted as a run of contiguous, fixed size chunks, each checked and
// programmed as it arrives, and finally verified against the checksum
// declared when the session started.
//
// Validation failures are returned as wire.ResponseError values and leave
// the session unchanged unless documented otherwise. A Loader is not safe
// for concurrent use.
package loader

import (
	"fmt"
	"hash/crc32"

	"github.com/pkg/errors"

	"github.com/amrbekhit/squidboot/flash"
	"github.com/amrbekhit/squidboot/wire"
)

// Phase is the session state.
type Phase int

const (
	Idle Phase = iota
	Started
	Loading
	AwaitingComplete
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Started:
		return "started"
	case Loading:
		return "loading"
	case AwaitingComplete:
		return "awaiting complete"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Session describes the image being loaded. Outside Idle, PartialCRC is the
// checksum of the bytes in [StartAddr, NextAddr), all of which have been
// programmed.
type Session struct {
	Phase       Phase
	StartAddr   uint32
	Length      uint32
	NextAddr    uint32
	PartialCRC  uint32
	ExpectedCRC uint32
}

// Written returns the number of bytes accepted so far.
func (s Session) Written() uint32 {
	if s.Phase == Idle {
		return 0
	}
	return s.NextAddr - s.StartAddr
}

// Flash is the programming side of a flash.Writer.
type Flash interface {
	Reset()
	Program(addr uint32, data []byte) error
}

// Loader runs bootload sessions against a flash region.
type Loader struct {
	params  wire.Parameters
	flash   Flash
	session Session
}

// New creates an idle loader.
func New(params wire.Parameters, fl Flash) *Loader {
	return &Loader{params: params, flash: fl}
}

// Session returns a copy of the current session.
func (l *Loader) Session() Session {
	return l.session
}

// Status returns the session as it is reported on the wire.
func (l *Loader) Status() wire.Status {
	s := l.session
	switch s.Phase {
	case Started:
		return wire.StatusStarted{StartAddr: s.StartAddr, Length: s.Length, CRC32: s.ExpectedCRC}
	case Loading:
		return wire.StatusLoading{
			StartAddr:     s.StartAddr,
			NextAddr:      s.NextAddr,
			PartialCRC32:  s.PartialCRC,
			ExpectedCRC32: s.ExpectedCRC,
		}
	case AwaitingComplete:
		return wire.StatusAwaitingComplete{}
	default:
		return wire.StatusIdle{}
	}
}

// Start begins a session for an image of length bytes at startAddr whose
// checksum will be crc.
func (l *Loader) Start(startAddr, length, crc uint32) error {
	if l.session.Phase != Idle {
		return wire.BootloadInProgress{}
	}
	app := l.params.ValidAppRange
	if !app.Contains(startAddr) || (startAddr-app.Start)%l.params.PageSize != 0 {
		return wire.BadStartAddress{}
	}
	if length == 0 || length%l.params.DataChunkSize != 0 || uint64(startAddr)+uint64(length) > uint64(app.End)+1 {
		return wire.BadLength{}
	}

	l.flash.Reset()
	l.session = Session{
		Phase:       Started,
		StartAddr:   startAddr,
		Length:      length,
		NextAddr:    startAddr,
		PartialCRC:  crc32.ChecksumIEEE(nil),
		ExpectedCRC: crc,
	}
	return nil
}

// Chunk checks and programs one chunk and returns the checksum of every
// byte accepted so far, including this chunk.
//
// A hardware failure is returned as a *flash.FaultError and ends the
// session.
func (l *Loader) Chunk(addr, subCRC uint32, data []byte) (uint32, error) {
	s := &l.session
	if s.Phase == Idle {
		return 0, wire.SkippedRange{Expected: wire.NoAddress, Actual: addr}
	}
	if addr != s.NextAddr {
		return 0, wire.SkippedRange{Expected: s.NextAddr, Actual: addr}
	}
	if uint64(len(data)) != uint64(l.params.DataChunkSize) {
		return 0, wire.IncorrectLength{Expected: l.params.DataChunkSize, Actual: uint32(len(data))}
	}
	if s.Phase == AwaitingComplete {
		return 0, wire.TooManyChunks{}
	}
	if actual := crc32.ChecksumIEEE(data); actual != subCRC {
		return 0, wire.BadSubCRC{Expected: subCRC, Actual: actual}
	}

	if err := l.flash.Program(addr, data); err != nil {
		l.session = Session{}
		var fault *flash.FaultError
		if errors.As(err, &fault) {
			return 0, fault
		}
		return 0, &flash.FaultError{Op: "program", Addr: addr, Err: err}
	}

	s.PartialCRC = crc32.Update(s.PartialCRC, crc32.IEEETable, data)
	// NextAddr wraps to zero after a final chunk ending at the top of the
	// address space; Written is still correct.
	s.NextAddr += uint32(len(data))
	s.Phase = Loading
	if s.Written() == s.Length {
		s.Phase = AwaitingComplete
	}
	return s.PartialCRC, nil
}

// Complete ends the session once every chunk has been written and the image
// checksum matches. A checksum mismatch also ends the session.
func (l *Loader) Complete() error {
	s := l.session
	switch s.Phase {
	case Idle:
		return wire.SkippedRange{Expected: wire.NoAddress, Actual: wire.NoAddress}
	case Started, Loading:
		return wire.IncompleteLoad{ExpectedLen: s.Length, ActualLen: s.Written()}
	}
	l.session = Session{}
	if s.PartialCRC != s.ExpectedCRC {
		return wire.BadFullCRC{Expected: s.ExpectedCRC, Actual: s.PartialCRC}
	}
	return nil
}

// Abort abandons the session.
func (l *Loader) Abort() error {
	if l.session.Phase == Idle {
		return wire.NoBootloadActive{}
	}
	l.session = Session{}
	return nil
}
