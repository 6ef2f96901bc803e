package squidboot

import (
	"hash/crc32"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amrbekhit/squidboot/frame"
	"github.com/amrbekhit/squidboot/wire"
)

// newScripted connects a stream bootloader to a device that answers each
// request with the results returned by reply, in order.
func newScripted(t *testing.T, reply func(wire.Request) []wire.Result) Bootloader {
	hostR, devW := io.Pipe()
	devR, hostW := io.Pipe()

	go func() {
		frames := frame.NewReader(devR, 0)
		for {
			payload, err := frames.ReadFrame()
			if err != nil {
				return
			}
			req, err := wire.DecodeRequest(payload)
			if err != nil {
				continue
			}
			for _, res := range reply(req) {
				out, err := wire.EncodeResult(res)
				if err != nil {
					panic(err)
				}
				if _, err := devW.Write(frame.Encode(out)); err != nil {
					return
				}
			}
		}
	}()

	b := NewStreamBootloader(&duplex{
		Reader:  hostR,
		Writer:  hostW,
		closers: []io.Closer{hostR, hostW, devR, devW},
	}, Options{Timeout: 200 * time.Millisecond})
	require.NoError(t, b.Connect())
	t.Cleanup(b.Disconnect)
	return b
}

func TestStaleRepliesDiscarded(t *testing.T) {
	data := pattern(2048, 9)
	sub := crc32.ChecksumIEEE(data)

	b := newScripted(t, func(req wire.Request) []wire.Result {
		switch r := req.(type) {
		case wire.DataChunkRequest:
			// Replies to a retry of the previous chunk arrive first.
			return []wire.Result{
				wire.Fail(wire.SkippedRange{Expected: r.DataAddr, Actual: r.DataAddr - 2048}),
				wire.Ok(wire.ChunkAccepted{DataAddr: r.DataAddr - 2048, DataLen: 2048, CRC32: 1}),
				wire.Ok(wire.ChunkAccepted{DataAddr: r.DataAddr, DataLen: 2048, CRC32: sub}),
			}
		case wire.ReadRangeRequest:
			return []wire.Result{
				wire.Fail(wire.FlashFault{Addr: r.StartAddr + 0x100}),
				wire.Ok(wire.RangeData{StartAddr: r.StartAddr + 0x100, Len: r.Len, Data: make([]byte, r.Len)}),
				wire.Ok(wire.RangeData{StartAddr: r.StartAddr, Len: r.Len, Data: []byte{1, 2}}),
			}
		case wire.PingRequest:
			return []wire.Result{
				wire.Fail(wire.BadRangeStart{}),
				wire.Fail(wire.IncompleteLoad{}),
				wire.Ok(wire.Pong{N: r.N}),
			}
		}
		return nil
	})

	crc, err := b.WriteChunk(0x4800, data)
	require.NoError(t, err)
	assert.Equal(t, sub, crc)

	got, err := b.ReadRange(0x4000, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, got)

	n, err := b.Ping(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
}

func TestRejectionForRequestKept(t *testing.T) {
	b := newScripted(t, func(req wire.Request) []wire.Result {
		switch r := req.(type) {
		case wire.DataChunkRequest:
			return []wire.Result{wire.Fail(wire.SkippedRange{Expected: r.DataAddr + 2048, Actual: r.DataAddr})}
		case wire.CompleteBootloadRequest:
			return []wire.Result{wire.Fail(wire.SkippedRange{Expected: wire.NoAddress, Actual: wire.NoAddress})}
		}
		return nil
	})

	_, err := b.WriteChunk(0x4000, pattern(2048, 1))
	assert.ErrorIs(t, err, wire.SkippedRange{Expected: 0x4800, Actual: 0x4000})

	_, err = b.CompleteBootload(false)
	assert.ErrorIs(t, err, wire.SkippedRange{Expected: wire.NoAddress, Actual: wire.NoAddress})
}

func TestExpectsError(t *testing.T) {
	tests := []struct {
		name string
		req  wire.Request
		err  wire.ResponseError
		want bool
	}{
		{"start", wire.StartBootloadRequest{}, wire.BadLength{}, true},
		{"start from chunk", wire.DataChunkRequest{}, wire.BadLength{}, false},
		{"chunk at address", wire.DataChunkRequest{DataAddr: 0x4000}, wire.SkippedRange{Expected: 0x4800, Actual: 0x4000}, true},
		{"chunk at other address", wire.DataChunkRequest{DataAddr: 0x4800}, wire.SkippedRange{Expected: 0x4800, Actual: 0x4000}, false},
		{"complete idle", wire.CompleteBootloadRequest{}, wire.SkippedRange{Expected: wire.NoAddress, Actual: wire.NoAddress}, true},
		{"chunk fault", wire.DataChunkRequest{}, wire.FlashFault{Addr: 0x4200}, true},
		{"read fault", wire.ReadRangeRequest{StartAddr: 0x10}, wire.FlashFault{Addr: 0x10}, true},
		{"read fault other", wire.ReadRangeRequest{StartAddr: 0x10}, wire.FlashFault{Addr: 0x20}, false},
		{"settings", wire.WriteSettingsRequest{}, wire.SettingsFault{}, true},
		{"abort", wire.AbortBootloadRequest{}, wire.NoBootloadActive{}, true},
		{"ping", wire.PingRequest{}, wire.NoBootloadActive{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expectsError(tt.req, tt.err))
		})
	}
}
