package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParameters = Parameters{
	SettingsMax:    2044,
	DataChunkSize:  2048,
	ValidRAMRead:   Range{Start: 0x2000_0000, End: 0x2000_1FFF},
	ValidFlashRead: Range{Start: 0x0000_0000, End: 0x0000_FFFF},
	ReadMax:        2048,
	ValidAppRange:  Range{Start: 0x0000_4000, End: 0x0000_FFFF},
	PageSize:       2048,
	SubpageSize:    512,
}

func TestRequestRoundTrip(t *testing.T) {
	requests := []Request{
		PingRequest{N: 0xDEADBEEF},
		GetParametersRequest{},
		StartBootloadRequest{StartAddr: 0x8000, Length: 4096, CRC32: 0xCAFEBABE},
		DataChunkRequest{DataAddr: 0x8000, SubCRC32: 0x12345678, Data: []byte{0x00, 0x01, 0x02}},
		DataChunkRequest{DataAddr: 0x8800},
		CompleteBootloadRequest{Reboot: true},
		CompleteBootloadRequest{Reboot: false},
		GetSettingsRequest{},
		WriteSettingsRequest{CRC32: 0x0BADF00D, Data: []byte("settings")},
		GetStatusRequest{},
		ReadRangeRequest{StartAddr: 0x2000_0000, Len: 64},
		AbortBootloadRequest{},
		IsBootableRequest{},
		BootRequest{Command: ForceBoot},
		BootRequest{Command: BootIfBootable},
	}

	for _, req := range requests {
		t.Run(req.Name(), func(t *testing.T) {
			got, err := DecodeRequest(EncodeRequest(req))
			require.NoError(t, err)
			assert.Equal(t, req, got)
		})
	}
}

func TestResultRoundTrip(t *testing.T) {
	results := []Result{
		Ok(Pong{N: 7}),
		Ok(ParametersResponse{Parameters: testParameters}),
		Ok(BootloadStarted{}),
		Ok(ChunkAccepted{DataAddr: 0x8000, DataLen: 2048, CRC32: 0x11223344}),
		Ok(ConfirmComplete{WillReboot: true}),
		Ok(SettingsResponse{Data: []byte{1, 2, 3}, CRC32: 0x55AA55AA}),
		Ok(SettingsResponse{}),
		Ok(SettingsAccepted{DataLen: 3, CRC32: 0x55AA55AA}),
		Ok(StatusResponse{Status: StatusIdle{}}),
		Ok(StatusResponse{Status: StatusStarted{StartAddr: 0x8000, Length: 4096, CRC32: 1}}),
		Ok(StatusResponse{Status: StatusLoading{StartAddr: 0x8000, NextAddr: 0x8800, PartialCRC32: 2, ExpectedCRC32: 3}}),
		Ok(StatusResponse{Status: StatusAwaitingComplete{}}),
		Ok(RangeData{StartAddr: 0x100, Len: 2, Data: []byte{0xAA, 0xBB}}),
		Ok(BootloadAborted{}),
		Ok(BootableStatus{Bootable: Bootable{Verdict: NoInvalidCRC}}),
		Ok(BootableStatus{Bootable: Bootable{Verdict: Yes, CRC32: 9, Length: 4096}}),
		Ok(ConfirmBootCmd{WillBoot: true, BootStatus: Bootable{Verdict: Unsure}}),
		Fail(BadStartAddress{}),
		Fail(BadLength{}),
		Fail(BootloadInProgress{}),
		Fail(SkippedRange{Expected: 0x8000, Actual: 0x9000}),
		Fail(IncorrectLength{Expected: 2048, Actual: 12}),
		Fail(BadSubCRC{Expected: 1, Actual: 2}),
		Fail(NoBootloadActive{}),
		Fail(TooManyChunks{}),
		Fail(IncompleteLoad{ExpectedLen: 4096, ActualLen: 2048}),
		Fail(BadFullCRC{Expected: 3, Actual: 4}),
		Fail(SettingsTooLong{Max: 2044, Actual: 3000}),
		Fail(BadRangeStart{}),
		Fail(BadRangeEnd{}),
		Fail(BadRangeLength{Actual: 4096, Max: 2048}),
		Fail(BadSettingsCRC{Expected: 5, Actual: 6}),
		Fail(FlashFault{Addr: 0x8800}),
		Fail(SettingsFault{}),
	}

	for _, res := range results {
		enc, err := EncodeResult(res)
		require.NoError(t, err)
		got, err := DecodeResult(enc)
		require.NoError(t, err, "%#v", res)
		assert.Equal(t, res, got)
	}
}

func TestEncodingLayout(t *testing.T) {
	assert.Equal(t,
		[]byte{0x02, 0x00, 0x80, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0xBE, 0xBA, 0xFE, 0xCA},
		EncodeRequest(StartBootloadRequest{StartAddr: 0x8000, Length: 4096, CRC32: 0xCAFEBABE}))

	assert.Equal(t,
		[]byte{0x03, 0x00, 0x80, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0xAA, 0xBB},
		EncodeRequest(DataChunkRequest{DataAddr: 0x8000, SubCRC32: 1, Data: []byte{0xAA, 0xBB}}))

	enc, err := EncodeResult(Fail(SkippedRange{Expected: 0x8000, Actual: 0x8800}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x80, 0x00, 0x00, 0x00, 0x88, 0x00, 0x00}, enc)

	enc, err = EncodeResult(Ok(ConfirmComplete{WillReboot: false}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x04, 0x00}, enc)
}

func TestDecodeRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrMalformed},
		{"unknown discriminant", []byte{0x7F}, ErrUnknownVariant},
		{"truncated field", []byte{0x00, 0x01, 0x02}, ErrMalformed},
		{"trailing bytes", []byte{0x01, 0x00}, ErrMalformed},
		{"invalid bool", []byte{0x04, 0x02}, ErrMalformed},
		{"overlong byte string", []byte{0x06, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}, ErrMalformed},
		{"unknown boot command", []byte{0x0B, 0x05}, ErrUnknownVariant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeResultErrors(t *testing.T) {
	_, err := DecodeResult([]byte{0x02})
	assert.ErrorIs(t, err, ErrUnknownVariant)

	_, err = DecodeResult([]byte{0x00, 0x7F})
	assert.ErrorIs(t, err, ErrUnknownVariant)

	_, err = DecodeResult([]byte{0x01, 0x7F})
	assert.ErrorIs(t, err, ErrUnknownVariant)

	_, err = DecodeResult([]byte{0x00, 0x07, 0x09})
	assert.ErrorIs(t, err, ErrUnknownVariant)

	_, err = EncodeResult(Result{})
	assert.Error(t, err)
}

func TestParametersValidate(t *testing.T) {
	require.NoError(t, testParameters.Validate())

	bad := testParameters
	bad.DataChunkSize = 1000
	assert.Error(t, bad.Validate())

	bad = testParameters
	bad.ValidAppRange.Start = 0x4100
	assert.Error(t, bad.Validate())

	bad = testParameters
	bad.ValidAppRange.End = 0x1_0000
	assert.Error(t, bad.Validate())

	bad = testParameters
	bad.ReadMax = 0
	assert.Error(t, bad.Validate())
}

func TestRange(t *testing.T) {
	r := Range{Start: 0x100, End: 0x1FF}
	assert.True(t, r.Contains(0x100))
	assert.True(t, r.Contains(0x1FF))
	assert.False(t, r.Contains(0x200))
	assert.False(t, r.Contains(0xFF))
	assert.Equal(t, uint64(0x100), r.Size())
	assert.Equal(t, uint64(1<<32), Range{Start: 0, End: 0xFFFFFFFF}.Size())
}

func TestMaxMessageSize(t *testing.T) {
	p := testParameters
	p.ReadMax = 4096
	assert.Equal(t, 4096+maxHeader, p.MaxMessageSize())

	out, err := EncodeResult(Ok(RangeData{StartAddr: 0x4000, Len: p.ReadMax, Data: make([]byte, p.ReadMax)}))
	require.NoError(t, err)
	assert.Len(t, out, p.MaxMessageSize())

	chunk := EncodeRequest(DataChunkRequest{DataAddr: 0x4000, Data: make([]byte, p.DataChunkSize)})
	assert.LessOrEqual(t, len(chunk), testParameters.MaxMessageSize())
	blob := EncodeRequest(WriteSettingsRequest{Data: make([]byte, p.SettingsMax)})
	assert.LessOrEqual(t, len(blob), testParameters.MaxMessageSize())
}
