package wire

import "github.com/pkg/errors"

// Response discriminants. Pong and Parameters are frozen; the rest may be
// appended to but never reordered.
const (
	tagPong             = 0
	tagParameters       = 1
	tagBootloadStarted  = 2
	tagChunkAccepted    = 3
	tagConfirmComplete  = 4
	tagSettings         = 5
	tagSettingsAccepted = 6
	tagStatus           = 7
	tagRangeData        = 8
	tagBootloadAborted  = 9
	tagBootableStatus   = 10
	tagConfirmBootCmd   = 11
)

// Result tags.
const (
	tagOk  = 0
	tagErr = 1
)

// Response is a successful reply from the node.
type Response interface {
	encode(*encoder)
}

type Pong struct {
	N uint32
}

type ParametersResponse struct {
	Parameters Parameters
}

type BootloadStarted struct{}

// ChunkAccepted acknowledges a data chunk. CRC32 is the cumulative checksum
// of every byte accepted in the session so far.
type ChunkAccepted struct {
	DataAddr uint32
	DataLen  uint32
	CRC32    uint32
}

type ConfirmComplete struct {
	WillReboot bool
}

type SettingsResponse struct {
	Data  []byte
	CRC32 uint32
}

type SettingsAccepted struct {
	DataLen uint32
	CRC32   uint32
}

type StatusResponse struct {
	Status Status
}

type RangeData struct {
	StartAddr uint32
	Len       uint32
	Data      []byte
}

type BootloadAborted struct{}

type BootableStatus struct {
	Bootable Bootable
}

type ConfirmBootCmd struct {
	WillBoot   bool
	BootStatus Bootable
}

func (r Pong) encode(e *encoder) {
	e.u8(tagPong)
	e.u32(r.N)
}

func (r ParametersResponse) encode(e *encoder) {
	e.u8(tagParameters)
	r.Parameters.encode(e)
}

func (BootloadStarted) encode(e *encoder) { e.u8(tagBootloadStarted) }

func (r ChunkAccepted) encode(e *encoder) {
	e.u8(tagChunkAccepted)
	e.u32(r.DataAddr)
	e.u32(r.DataLen)
	e.u32(r.CRC32)
}

func (r ConfirmComplete) encode(e *encoder) {
	e.u8(tagConfirmComplete)
	e.bool(r.WillReboot)
}

func (r SettingsResponse) encode(e *encoder) {
	e.u8(tagSettings)
	e.bytes(r.Data)
	e.u32(r.CRC32)
}

func (r SettingsAccepted) encode(e *encoder) {
	e.u8(tagSettingsAccepted)
	e.u32(r.DataLen)
	e.u32(r.CRC32)
}

func (r StatusResponse) encode(e *encoder) {
	e.u8(tagStatus)
	if r.Status == nil {
		StatusIdle{}.encode(e)
		return
	}
	r.Status.encode(e)
}

func (r RangeData) encode(e *encoder) {
	e.u8(tagRangeData)
	e.u32(r.StartAddr)
	e.u32(r.Len)
	e.bytes(r.Data)
}

func (BootloadAborted) encode(e *encoder) { e.u8(tagBootloadAborted) }

func (r BootableStatus) encode(e *encoder) {
	e.u8(tagBootableStatus)
	r.Bootable.encode(e)
}

func (r ConfirmBootCmd) encode(e *encoder) {
	e.u8(tagConfirmBootCmd)
	e.bool(r.WillBoot)
	r.BootStatus.encode(e)
}

func decodeResponse(d *decoder) Response {
	switch tag := d.u8(); tag {
	case tagPong:
		return Pong{N: d.u32()}
	case tagParameters:
		return ParametersResponse{Parameters: decodeParameters(d)}
	case tagBootloadStarted:
		return BootloadStarted{}
	case tagChunkAccepted:
		return ChunkAccepted{DataAddr: d.u32(), DataLen: d.u32(), CRC32: d.u32()}
	case tagConfirmComplete:
		return ConfirmComplete{WillReboot: d.bool()}
	case tagSettings:
		return SettingsResponse{Data: d.bytes(), CRC32: d.u32()}
	case tagSettingsAccepted:
		return SettingsAccepted{DataLen: d.u32(), CRC32: d.u32()}
	case tagStatus:
		return StatusResponse{Status: decodeStatus(d)}
	case tagRangeData:
		return RangeData{StartAddr: d.u32(), Len: d.u32(), Data: d.bytes()}
	case tagBootloadAborted:
		return BootloadAborted{}
	case tagBootableStatus:
		return BootableStatus{Bootable: decodeBootable(d)}
	case tagConfirmBootCmd:
		return ConfirmBootCmd{WillBoot: d.bool(), BootStatus: decodeBootable(d)}
	default:
		if d.err == nil {
			d.fail(unknown("response", tag))
		}
		return nil
	}
}

// Result is the reply to one request: exactly one of Response and Err is
// set.
type Result struct {
	Response Response
	Err      ResponseError
}

// Ok wraps a successful response.
func Ok(r Response) Result {
	return Result{Response: r}
}

// Fail wraps a protocol error.
func Fail(err ResponseError) Result {
	return Result{Err: err}
}

// EncodeResult serializes a reply.
func EncodeResult(r Result) ([]byte, error) {
	var e encoder
	switch {
	case r.Err != nil && r.Response == nil:
		e.u8(tagErr)
		r.Err.encode(&e)
	case r.Response != nil && r.Err == nil:
		e.u8(tagOk)
		r.Response.encode(&e)
	default:
		return nil, errors.New("result must hold exactly one of response and error")
	}
	return e.buf, nil
}

// DecodeResult parses a reply. The whole of b must be consumed.
func DecodeResult(b []byte) (Result, error) {
	d := &decoder{buf: b}
	var r Result
	switch tag := d.u8(); tag {
	case tagOk:
		r.Response = decodeResponse(d)
	case tagErr:
		r.Err = decodeResponseError(d)
	default:
		if d.err == nil {
			return Result{}, unknown("result", tag)
		}
	}
	if err := d.finish(); err != nil {
		return Result{}, err
	}
	return r, nil
}
