package squidboot

import (
	"hash/crc32"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/amrbekhit/squidboot/frame"
	"github.com/amrbekhit/squidboot/settings"
	"github.com/amrbekhit/squidboot/wire"
)

// DefaultTimeout is the response timeout used when Options.Timeout is zero.
const DefaultTimeout = time.Second

var (
	// ErrTimeout is returned when no response arrives after every retry.
	ErrTimeout = errors.New("timed out waiting for response")
	// ErrNotConnected is returned by requests issued before Connect.
	ErrNotConnected = errors.New("not connected")
)

// Options controls how requests are retried.
type Options struct {
	// Timeout is how long to wait for each response.
	Timeout time.Duration
	// Retries is the number of times a request is resent after a timeout.
	// The device drops frames it cannot decode without replying, so
	// retrying is the only recovery from line noise.
	Retries int
	// MaxFrameSize bounds received frames. Zero selects
	// frame.DefaultMaxFrameSize, raised to fit the largest response once
	// GetParameters has been answered.
	MaxFrameSize int
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

type streamBootloader struct {
	mu   sync.Mutex
	rw   io.ReadWriter
	opts Options
	// Serial ports report a read timeout as io.EOF.
	eofIsTimeout bool

	reader *frame.Reader
	frames chan []byte
	errc   chan error
	done   chan struct{}
}

// NewStreamBootloader creates a bootloader speaking the protocol over rw. If
// rw is an io.Closer it is closed by Disconnect.
func NewStreamBootloader(rw io.ReadWriter, opts Options) Bootloader {
	return &streamBootloader{rw: rw, opts: opts}
}

func (b *streamBootloader) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frames == nil {
		b.attach(b.rw)
	}
	return nil
}

// attach starts receiving frames from rw. The caller holds mu.
func (b *streamBootloader) attach(rw io.ReadWriter) {
	b.rw = rw
	b.frames = make(chan []byte, 4)
	b.errc = make(chan error, 1)
	b.done = make(chan struct{})
	b.reader = frame.NewReader(rw, b.opts.MaxFrameSize)
	go b.readLoop(b.reader, b.frames, b.errc, b.done)
}

func (b *streamBootloader) readLoop(r *frame.Reader, frames chan<- []byte, errc chan<- error, done <-chan struct{}) {
	for {
		payload, err := r.ReadFrame()
		switch {
		case err == nil:
			select {
			case frames <- payload:
			case <-done:
				return
			}
		case err == io.EOF && b.eofIsTimeout:
		case errors.Is(err, frame.ErrCorrupt), errors.Is(err, frame.ErrOverfill), errors.Is(err, frame.ErrTruncated):
			pkgLog.Debugf("dropping frame: %v", err)
		default:
			select {
			case errc <- err:
			case <-done:
			}
			return
		}
	}
}

func (b *streamBootloader) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frames == nil {
		return
	}
	close(b.done)
	if c, ok := b.rw.(io.Closer); ok {
		c.Close()
	}
	b.frames = nil
}

func (b *streamBootloader) drain() {
	for {
		select {
		case <-b.frames:
		default:
			return
		}
	}
}

// transact sends req and waits for its response, resending on timeout.
func (b *streamBootloader) transact(req wire.Request) (wire.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frames == nil {
		return nil, ErrNotConnected
	}

	tx := frame.Encode(wire.EncodeRequest(req))
	b.drain()
	for attempt := 0; attempt <= b.opts.Retries; attempt++ {
		if attempt > 0 {
			pkgLog.Warnf("%s: no response, retrying (%d/%d)", req.Name(), attempt, b.opts.Retries)
		}
		if _, err := b.rw.Write(tx); err != nil {
			return nil, errors.Wrapf(err, "send %s", req.Name())
		}
		res, err := b.await(req)
		if err == ErrTimeout {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "receive %s", req.Name())
		}
		if res.Err != nil {
			return nil, &CommandError{Request: req.Name(), Err: res.Err}
		}
		return res.Response, nil
	}
	return nil, errors.Wrap(ErrTimeout, req.Name())
}

func (b *streamBootloader) await(req wire.Request) (wire.Result, error) {
	timer := time.NewTimer(b.opts.timeout())
	defer timer.Stop()
	for {
		select {
		case payload := <-b.frames:
			res, err := wire.DecodeResult(payload)
			if err != nil {
				pkgLog.Debugf("dropping response: %v", err)
				continue
			}
			if res.Err == nil && !expects(req, res.Response) {
				pkgLog.Debugf("discarding stale %T response", res.Response)
				continue
			}
			if res.Err != nil && !expectsError(req, res.Err) {
				pkgLog.Debugf("discarding stale %T error", res.Err)
				continue
			}
			return res, nil
		case err := <-b.errc:
			// Keep the error for later requests.
			b.errc <- err
			return wire.Result{}, err
		case <-timer.C:
			return wire.Result{}, ErrTimeout
		}
	}
}

func (b *streamBootloader) Ping(n uint32) (uint32, error) {
	resp, err := b.transact(wire.PingRequest{N: n})
	if err != nil {
		return 0, err
	}
	return resp.(wire.Pong).N, nil
}

func (b *streamBootloader) GetParameters() (wire.Parameters, error) {
	resp, err := b.transact(wire.GetParametersRequest{})
	if err != nil {
		return wire.Parameters{}, err
	}
	p := resp.(wire.ParametersResponse).Parameters
	if b.opts.MaxFrameSize == 0 {
		if need := frame.EncodedSize(p.MaxMessageSize()); need > frame.DefaultMaxFrameSize {
			b.mu.Lock()
			if b.reader != nil {
				b.reader.SetMax(need)
			}
			b.mu.Unlock()
		}
	}
	return p, nil
}

func (b *streamBootloader) StartBootload(startAddr, length, crc uint32) error {
	_, err := b.transact(wire.StartBootloadRequest{StartAddr: startAddr, Length: length, CRC32: crc})
	return err
}

func (b *streamBootloader) WriteChunk(addr uint32, data []byte) (uint32, error) {
	resp, err := b.transact(wire.DataChunkRequest{DataAddr: addr, SubCRC32: crc32.ChecksumIEEE(data), Data: data})
	if err != nil {
		return 0, err
	}
	ack := resp.(wire.ChunkAccepted)
	if ack.DataLen != uint32(len(data)) {
		return 0, errors.Errorf("chunk %08X+%d acknowledged as %08X+%d", addr, len(data), ack.DataAddr, ack.DataLen)
	}
	return ack.CRC32, nil
}

func (b *streamBootloader) CompleteBootload(reboot bool) (bool, error) {
	resp, err := b.transact(wire.CompleteBootloadRequest{Reboot: reboot})
	if err != nil {
		return false, err
	}
	return resp.(wire.ConfirmComplete).WillReboot, nil
}

func (b *streamBootloader) AbortBootload() error {
	_, err := b.transact(wire.AbortBootloadRequest{})
	return err
}

func (b *streamBootloader) GetSettings() (settings.Blob, error) {
	resp, err := b.transact(wire.GetSettingsRequest{})
	if err != nil {
		return settings.Blob{}, err
	}
	s := resp.(wire.SettingsResponse)
	blob := settings.Blob{Data: s.Data, CRC32: s.CRC32}
	if !blob.Valid() {
		return settings.Blob{}, errors.Errorf("settings fail checksum %08X", s.CRC32)
	}
	return blob, nil
}

func (b *streamBootloader) WriteSettings(data []byte) error {
	crc := crc32.ChecksumIEEE(data)
	resp, err := b.transact(wire.WriteSettingsRequest{CRC32: crc, Data: data})
	if err != nil {
		return err
	}
	if ack := resp.(wire.SettingsAccepted); ack.CRC32 != crc || ack.DataLen != uint32(len(data)) {
		return errors.Errorf("settings acknowledged as %d bytes, crc %08X", ack.DataLen, ack.CRC32)
	}
	return nil
}

func (b *streamBootloader) GetStatus() (wire.Status, error) {
	resp, err := b.transact(wire.GetStatusRequest{})
	if err != nil {
		return nil, err
	}
	return resp.(wire.StatusResponse).Status, nil
}

func (b *streamBootloader) ReadRange(addr, length uint32) ([]byte, error) {
	resp, err := b.transact(wire.ReadRangeRequest{StartAddr: addr, Len: length})
	if err != nil {
		return nil, err
	}
	data := resp.(wire.RangeData)
	if uint32(len(data.Data)) != length {
		return nil, errors.Errorf("read %08X+%d returned %08X+%d", addr, length, data.StartAddr, len(data.Data))
	}
	return data.Data, nil
}

func (b *streamBootloader) IsBootable() (wire.Bootable, error) {
	resp, err := b.transact(wire.IsBootableRequest{})
	if err != nil {
		return wire.Bootable{}, err
	}
	return resp.(wire.BootableStatus).Bootable, nil
}

func (b *streamBootloader) Boot(cmd wire.BootCommand) (bool, wire.Bootable, error) {
	resp, err := b.transact(wire.BootRequest{Command: cmd})
	if err != nil {
		return false, wire.Bootable{}, err
	}
	c := resp.(wire.ConfirmBootCmd)
	return c.WillBoot, c.BootStatus, nil
}
