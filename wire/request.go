package wire

// Request discriminants. Ping and GetParameters are frozen; the rest may be
// appended to but never reordered.
const (
	tagPing             = 0
	tagGetParameters    = 1
	tagStartBootload    = 2
	tagDataChunk        = 3
	tagCompleteBootload = 4
	tagGetSettings      = 5
	tagWriteSettings    = 6
	tagGetStatus        = 7
	tagReadRange        = 8
	tagAbortBootload    = 9
	tagIsBootable       = 10
	tagBoot             = 11
)

// Request is a message sent from the host to the node.
type Request interface {
	// Name returns a short name for logs and errors.
	Name() string
	encode(*encoder)
}

type PingRequest struct {
	N uint32
}

type GetParametersRequest struct{}

type StartBootloadRequest struct {
	StartAddr uint32
	Length    uint32
	CRC32     uint32
}

type DataChunkRequest struct {
	DataAddr uint32
	SubCRC32 uint32
	Data     []byte
}

type CompleteBootloadRequest struct {
	Reboot bool
}

type GetSettingsRequest struct{}

type WriteSettingsRequest struct {
	CRC32 uint32
	Data  []byte
}

type GetStatusRequest struct{}

type ReadRangeRequest struct {
	StartAddr uint32
	Len       uint32
}

type AbortBootloadRequest struct{}

type IsBootableRequest struct{}

type BootRequest struct {
	Command BootCommand
}

func (PingRequest) Name() string             { return "ping" }
func (GetParametersRequest) Name() string    { return "get parameters" }
func (StartBootloadRequest) Name() string    { return "start bootload" }
func (DataChunkRequest) Name() string        { return "data chunk" }
func (CompleteBootloadRequest) Name() string { return "complete bootload" }
func (GetSettingsRequest) Name() string      { return "get settings" }
func (WriteSettingsRequest) Name() string    { return "write settings" }
func (GetStatusRequest) Name() string        { return "get status" }
func (ReadRangeRequest) Name() string        { return "read range" }
func (AbortBootloadRequest) Name() string    { return "abort bootload" }
func (IsBootableRequest) Name() string       { return "is bootable" }
func (BootRequest) Name() string             { return "boot" }

func (r PingRequest) encode(e *encoder) {
	e.u8(tagPing)
	e.u32(r.N)
}

func (GetParametersRequest) encode(e *encoder) { e.u8(tagGetParameters) }

func (r StartBootloadRequest) encode(e *encoder) {
	e.u8(tagStartBootload)
	e.u32(r.StartAddr)
	e.u32(r.Length)
	e.u32(r.CRC32)
}

func (r DataChunkRequest) encode(e *encoder) {
	e.u8(tagDataChunk)
	e.u32(r.DataAddr)
	e.u32(r.SubCRC32)
	e.bytes(r.Data)
}

func (r CompleteBootloadRequest) encode(e *encoder) {
	e.u8(tagCompleteBootload)
	e.bool(r.Reboot)
}

func (GetSettingsRequest) encode(e *encoder) { e.u8(tagGetSettings) }

func (r WriteSettingsRequest) encode(e *encoder) {
	e.u8(tagWriteSettings)
	e.u32(r.CRC32)
	e.bytes(r.Data)
}

func (GetStatusRequest) encode(e *encoder) { e.u8(tagGetStatus) }

func (r ReadRangeRequest) encode(e *encoder) {
	e.u8(tagReadRange)
	e.u32(r.StartAddr)
	e.u32(r.Len)
}

func (AbortBootloadRequest) encode(e *encoder) { e.u8(tagAbortBootload) }

func (IsBootableRequest) encode(e *encoder) { e.u8(tagIsBootable) }

func (r BootRequest) encode(e *encoder) {
	e.u8(tagBoot)
	e.u8(uint8(r.Command))
}

// EncodeRequest serializes a request.
func EncodeRequest(r Request) []byte {
	var e encoder
	r.encode(&e)
	return e.buf
}

// DecodeRequest parses a request. The whole of b must be consumed.
func DecodeRequest(b []byte) (Request, error) {
	d := &decoder{buf: b}
	var r Request
	switch tag := d.u8(); tag {
	case tagPing:
		r = PingRequest{N: d.u32()}
	case tagGetParameters:
		r = GetParametersRequest{}
	case tagStartBootload:
		r = StartBootloadRequest{StartAddr: d.u32(), Length: d.u32(), CRC32: d.u32()}
	case tagDataChunk:
		r = DataChunkRequest{DataAddr: d.u32(), SubCRC32: d.u32(), Data: d.bytes()}
	case tagCompleteBootload:
		r = CompleteBootloadRequest{Reboot: d.bool()}
	case tagGetSettings:
		r = GetSettingsRequest{}
	case tagWriteSettings:
		r = WriteSettingsRequest{CRC32: d.u32(), Data: d.bytes()}
	case tagGetStatus:
		r = GetStatusRequest{}
	case tagReadRange:
		r = ReadRangeRequest{StartAddr: d.u32(), Len: d.u32()}
	case tagAbortBootload:
		r = AbortBootloadRequest{}
	case tagIsBootable:
		r = IsBootableRequest{}
	case tagBoot:
		r = BootRequest{Command: decodeBootCommand(d)}
	default:
		if d.err == nil {
			return nil, unknown("request", tag)
		}
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return r, nil
}
