// Package node is the device side of the bootloader protocol. A Node decodes
// one request at a time, routes it to the bootload session, the settings
// store or the range reader, and encodes exactly one result.
//
// Requests that fail framing or schema decoding are dropped without a reply;
// the host times out and retries.
package node

import (
	"context"
	"hash/crc32"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/amrbekhit/squidboot/flash"
	"github.com/amrbekhit/squidboot/frame"
	"github.com/amrbekhit/squidboot/loader"
	"github.com/amrbekhit/squidboot/settings"
	"github.com/amrbekhit/squidboot/wire"
)

// System jumps to the application. It is called only after the response
// confirming the jump has been written.
type System interface {
	Boot()
}

// SystemFunc adapts a function to System.
type SystemFunc func()

func (f SystemFunc) Boot() { f() }

// Config holds the collaborators of a Node.
type Config struct {
	Parameters wire.Parameters
	// Flash backs the flash read window; the app range is programmed
	// through it.
	Flash flash.Device
	// RAM backs the RAM read window. It may be nil.
	RAM flash.Memory
	// Settings defaults to an in-memory store.
	Settings *settings.Store
	System   System
	// MaxFrameSize bounds received frames. It must hold the largest
	// request the parameters allow; zero selects the larger of that size
	// and frame.DefaultMaxFrameSize.
	MaxFrameSize int
}

// Node serves the bootloader protocol.
type Node struct {
	mu       sync.Mutex
	params   wire.Parameters
	flash    flash.Device
	loader   *loader.Loader
	settings *settings.Store
	reader   *RangeReader
	system   System
	maxFrame int

	bootPending bool
}

// New creates a node in the idle state.
func New(cfg Config) (*Node, error) {
	p := cfg.Parameters
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "parameters")
	}
	need := frame.EncodedSize(p.MaxMessageSize())
	maxFrame := cfg.MaxFrameSize
	switch {
	case maxFrame == 0:
		maxFrame = frame.DefaultMaxFrameSize
		if need > maxFrame {
			maxFrame = need
		}
	case maxFrame < need:
		return nil, errors.Errorf("frame limit of %d bytes cannot hold a %d byte request", maxFrame, need)
	}
	if cfg.Flash == nil {
		return nil, errors.New("no flash device")
	}
	w, err := flash.NewWriter(cfg.Flash, AppGeometry(p))
	if err != nil {
		return nil, errors.Wrap(err, "app region")
	}

	store := cfg.Settings
	if store == nil {
		if store, err = settings.NewStore(p.SettingsMax, &settings.MemoryBacking{}); err != nil {
			return nil, err
		}
	}
	if store.Max() != p.SettingsMax {
		return nil, errors.Errorf("settings store holds %d bytes, parameters declare %d", store.Max(), p.SettingsMax)
	}

	return &Node{
		params:   p,
		flash:    cfg.Flash,
		loader:   loader.New(p, w),
		settings: store,
		reader:   NewRangeReader(p, cfg.RAM, cfg.Flash),
		system:   cfg.System,
		maxFrame: maxFrame,
	}, nil
}

// Parameters returns the node's capability record.
func (n *Node) Parameters() wire.Parameters {
	return n.params
}

// Session returns the current bootload session.
func (n *Node) Session() loader.Session {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loader.Session()
}

// Handle executes one request.
func (n *Node) Handle(req wire.Request) wire.Result {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch r := req.(type) {
	case wire.PingRequest:
		return wire.Ok(wire.Pong{N: r.N})

	case wire.GetParametersRequest:
		return wire.Ok(wire.ParametersResponse{Parameters: n.params})

	case wire.StartBootloadRequest:
		if err := n.loader.Start(r.StartAddr, r.Length, r.CRC32); err != nil {
			return n.fail(req, err)
		}
		pkgLog.Infof("bootload started: %d bytes at %08X, crc %08X", r.Length, r.StartAddr, r.CRC32)
		return wire.Ok(wire.BootloadStarted{})

	case wire.DataChunkRequest:
		crc, err := n.loader.Chunk(r.DataAddr, r.SubCRC32, r.Data)
		if err != nil {
			return n.fail(req, err)
		}
		if n.loader.Session().Phase == loader.AwaitingComplete {
			pkgLog.Infof("bootload awaiting complete: crc %08X", crc)
		}
		return wire.Ok(wire.ChunkAccepted{DataAddr: r.DataAddr, DataLen: uint32(len(r.Data)), CRC32: crc})

	case wire.CompleteBootloadRequest:
		if err := n.loader.Complete(); err != nil {
			return n.fail(req, err)
		}
		pkgLog.Infof("bootload complete, reboot %v", r.Reboot)
		n.bootPending = r.Reboot
		return wire.Ok(wire.ConfirmComplete{WillReboot: r.Reboot})

	case wire.GetSettingsRequest:
		b := n.settings.Get()
		return wire.Ok(wire.SettingsResponse{Data: b.Data, CRC32: b.CRC32})

	case wire.WriteSettingsRequest:
		b, err := n.settings.Write(r.CRC32, r.Data)
		if err != nil {
			return n.fail(req, err)
		}
		pkgLog.Infof("settings committed: %d bytes, crc %08X", len(b.Data), b.CRC32)
		return wire.Ok(wire.SettingsAccepted{DataLen: uint32(len(b.Data)), CRC32: b.CRC32})

	case wire.GetStatusRequest:
		return wire.Ok(wire.StatusResponse{Status: n.loader.Status()})

	case wire.ReadRangeRequest:
		data, err := n.reader.Read(r.StartAddr, r.Len)
		if err != nil {
			return n.fail(req, err)
		}
		return wire.Ok(wire.RangeData{StartAddr: r.StartAddr, Len: r.Len, Data: data})

	case wire.AbortBootloadRequest:
		if err := n.loader.Abort(); err != nil {
			return n.fail(req, err)
		}
		pkgLog.Infof("bootload aborted")
		return wire.Ok(wire.BootloadAborted{})

	case wire.IsBootableRequest:
		return wire.Ok(wire.BootableStatus{Bootable: n.bootable()})

	case wire.BootRequest:
		b := n.bootable()
		will := r.Command == wire.ForceBoot || b.OK()
		pkgLog.Infof("boot requested: %v, will boot %v", b.Verdict, will)
		n.bootPending = will
		return wire.Ok(wire.ConfirmBootCmd{WillBoot: will, BootStatus: b})
	}

	// Every decodable request is handled above.
	panic(errors.Errorf("unhandled request %T", req))
}

// fail turns an operation error into a result. Errors that are not protocol
// validation failures come from the hardware.
func (n *Node) fail(req wire.Request, err error) wire.Result {
	var re wire.ResponseError
	if errors.As(err, &re) {
		pkgLog.Debugf("%s rejected: %v", req.Name(), re)
		return wire.Fail(re)
	}

	pkgLog.Warnf("%s failed: %v", req.Name(), err)
	switch r := req.(type) {
	case wire.WriteSettingsRequest:
		return wire.Fail(wire.SettingsFault{})
	case wire.ReadRangeRequest:
		return wire.Fail(wire.FlashFault{Addr: r.StartAddr})
	}
	var fault *flash.FaultError
	if errors.As(err, &fault) {
		return wire.Fail(wire.FlashFault{Addr: fault.Addr})
	}
	return wire.Fail(wire.FlashFault{Addr: wire.NoAddress})
}

// bootable checks the app_len and app_crc settings against the image in
// flash.
func (n *Node) bootable() wire.Bootable {
	items, err := settings.ParseItems(n.settings.Get().Data)
	if err != nil {
		pkgLog.Debugf("settings: %v", err)
	}
	length, crc, err := settings.AppInfo(items)
	switch {
	case errors.Is(err, settings.ErrDuplicateAppInfo):
		return wire.Bootable{Verdict: wire.NoDuplicateSettings}
	case err != nil:
		return wire.Bootable{Verdict: wire.NoMissingSettings}
	}

	app := n.params.ValidAppRange
	chunk := n.params.DataChunkSize
	if length == 0 || length%chunk != 0 || uint64(length) > app.Size() {
		return wire.Bootable{Verdict: wire.NoInvalidSettings}
	}

	actual := crc32.ChecksumIEEE(nil)
	for off := uint32(0); off < length; off += chunk {
		data, err := n.flash.Read(app.Start+off, chunk)
		if err != nil {
			pkgLog.Warnf("bootable check: %v", err)
			return wire.Bootable{Verdict: wire.Unsure}
		}
		actual = crc32.Update(actual, crc32.IEEETable, data)
	}
	if actual != crc {
		return wire.Bootable{Verdict: wire.NoInvalidCRC}
	}
	return wire.Bootable{Verdict: wire.Yes, CRC32: crc, Length: length}
}

// Process handles one received payload and returns the encoded response
// frame, or nil when the request is dropped.
func (n *Node) Process(payload []byte) []byte {
	req, err := wire.DecodeRequest(payload)
	if err != nil {
		pkgLog.Debugf("dropping request: %v", err)
		return nil
	}
	out, err := wire.EncodeResult(n.Handle(req))
	if err != nil {
		pkgLog.Warnf("dropping %s response: %v", req.Name(), err)
		return nil
	}
	return frame.Encode(out)
}

// CheckAfterSend starts the application if the last response confirmed a
// boot. It must be called after that response has been written.
func (n *Node) CheckAfterSend() {
	n.mu.Lock()
	pending := n.bootPending
	n.bootPending = false
	n.mu.Unlock()

	if !pending {
		return
	}
	pkgLog.Infof("booting application at %08X", n.params.ValidAppRange.Start)
	if n.system != nil {
		n.system.Boot()
	}
}

// Serve reads frames from rw and writes a response for each request until rw
// reports EOF or ctx is done. If rw is an io.Closer it is closed when ctx is
// done, to unblock a pending read.
func (n *Node) Serve(ctx context.Context, rw io.ReadWriter) error {
	if c, ok := rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	acc := frame.NewAccumulator(n.maxFrame)
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		k, rerr := rw.Read(buf)
		for _, b := range buf[:k] {
			payload, err := acc.Push(b)
			if err != nil {
				pkgLog.Debugf("dropping frame: %v", err)
				continue
			}
			if payload == nil {
				continue
			}
			resp := n.Process(payload)
			if resp == nil {
				continue
			}
			if _, err := rw.Write(resp); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.Wrap(err, "write response")
			}
			n.CheckAfterSend()
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if rerr == io.EOF {
				return nil
			}
			return errors.Wrap(rerr, "read request")
		}
	}
}
