package flash

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/tinyfs"
)

const (
	testBase = 0x4000
	testSize = 4 * PageSize
)

func newTestWriter(t *testing.T) (*Writer, *Simulator) {
	sim := NewSimulator(0, 0x10000, PageSize, SubpageSize, 0xA5)
	w, err := NewWriter(sim, Geometry{Base: testBase, Size: testSize, PageSize: PageSize, SubpageSize: SubpageSize})
	require.NoError(t, err)
	return w, sim
}

func TestWriterErasesLazilyOnce(t *testing.T) {
	w, sim := newTestWriter(t)

	sub := func(v byte) []byte { return bytes.Repeat([]byte{v}, SubpageSize) }

	require.NoError(t, w.Program(testBase, sub(1)))
	assert.Equal(t, 1, sim.EraseCount[testBase])
	assert.True(t, w.Erased(testBase))
	assert.False(t, w.Erased(testBase+PageSize))

	// Rest of the first page, then into the second.
	require.NoError(t, w.Program(testBase+SubpageSize, append(sub(2), sub(3)...)))
	require.NoError(t, w.Program(testBase+3*SubpageSize, append(sub(4), sub(5)...)))
	assert.Equal(t, 1, sim.EraseCount[testBase], "first page erased again")
	assert.Equal(t, 1, sim.EraseCount[testBase+PageSize])
	assert.Zero(t, sim.EraseCount[testBase+2*PageSize])

	got, err := sim.Read(testBase, 5*SubpageSize)
	require.NoError(t, err)
	want := bytes.Join([][]byte{sub(1), sub(2), sub(3), sub(4), sub(5)}, nil)
	assert.Equal(t, want, got)

	// Untouched flash keeps its original contents.
	before, err := sim.Read(testBase-SubpageSize, SubpageSize)
	require.NoError(t, err)
	assert.Equal(t, sub(0xA5), before)

	// The remainder of the second page was erased, not programmed.
	tail, err := sim.Read(testBase+5*SubpageSize, SubpageSize)
	require.NoError(t, err)
	assert.Equal(t, sub(ErasedByte), tail)
}

func TestWriterRejectsBeforeTouchingDevice(t *testing.T) {
	w, sim := newTestWriter(t)
	require.NoError(t, w.Program(testBase, make([]byte, SubpageSize)))

	tests := []struct {
		name string
		addr uint32
		n    int
		want error
	}{
		{"misaligned address", testBase + 100, SubpageSize, ErrMisaligned},
		{"misaligned length", testBase + SubpageSize, 100, ErrMisaligned},
		{"below region", testBase - PageSize, SubpageSize, ErrOutOfRange},
		{"past region", testBase + testSize - SubpageSize, 2 * SubpageSize, ErrOutOfRange},
		{"rewrite", testBase, SubpageSize, ErrAlreadyProgrammed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			erases := len(sim.EraseCount)
			err := w.Program(tt.addr, make([]byte, tt.n))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, erases, len(sim.EraseCount))
		})
	}
}

func TestWriterReset(t *testing.T) {
	w, sim := newTestWriter(t)
	data := make([]byte, SubpageSize)

	require.NoError(t, w.Program(testBase, data))
	assert.True(t, w.Programmed(testBase))

	w.Reset()
	assert.False(t, w.Programmed(testBase))
	assert.False(t, w.Erased(testBase))

	require.NoError(t, w.Program(testBase, data))
	assert.Equal(t, 2, sim.EraseCount[testBase])
}

func TestWriterFaults(t *testing.T) {
	w, sim := newTestWriter(t)
	sim.FailErase[testBase+PageSize] = true
	sim.FailProgram[testBase+SubpageSize] = true

	err := w.Program(testBase, make([]byte, 2*SubpageSize))
	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "program", fault.Op)
	assert.Equal(t, uint32(testBase+SubpageSize), fault.Addr)
	assert.ErrorIs(t, err, ErrInjected)
	assert.True(t, w.Programmed(testBase))
	assert.False(t, w.Programmed(testBase+SubpageSize))

	err = w.Program(testBase+PageSize, make([]byte, SubpageSize))
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "erase", fault.Op)
	assert.Equal(t, uint32(testBase+PageSize), fault.Addr)
}

func TestGeometryValidate(t *testing.T) {
	assert.NoError(t, Geometry{Base: 0, Size: PageSize, PageSize: PageSize, SubpageSize: SubpageSize}.Validate())
	assert.Error(t, Geometry{Base: 0, Size: PageSize + 1, PageSize: PageSize, SubpageSize: SubpageSize}.Validate())
	assert.Error(t, Geometry{Base: 0, Size: PageSize, PageSize: PageSize, SubpageSize: 300}.Validate())
	assert.Error(t, Geometry{Base: 0xFFFFF800, Size: 2 * PageSize, PageSize: PageSize, SubpageSize: SubpageSize}.Validate())
}

func TestSimulatorRequiresErase(t *testing.T) {
	sim := NewSimulator(0, PageSize, PageSize, SubpageSize, ErasedByte)
	data := bytes.Repeat([]byte{0x42}, SubpageSize)

	require.NoError(t, sim.ProgramSubpage(0, data))
	assert.ErrorIs(t, sim.ProgramSubpage(0, data), ErrNotErased)

	require.NoError(t, sim.ErasePage(0))
	assert.NoError(t, sim.ProgramSubpage(0, data))

	_, err := sim.Read(PageSize-1, 2)
	assert.Error(t, err)
}

func TestBlockDeviceOverMemory(t *testing.T) {
	mem := tinyfs.NewMemoryDevice(SubpageSize, PageSize, 8)
	dev, err := NewBlockDevice(mem, testBase, PageSize)
	require.NoError(t, err)

	w, err := NewWriter(dev, Geometry{Base: testBase, Size: 8 * PageSize, PageSize: PageSize, SubpageSize: SubpageSize})
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0x5A}, PageSize)
	require.NoError(t, w.Program(testBase+PageSize, data))

	got, err := dev.Read(testBase+PageSize, PageSize)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = dev.Read(testBase-1, 1)
	assert.Error(t, err)

	_, err = NewBlockDevice(mem, 0, 1024)
	assert.Error(t, err)
}

func TestFileDevicePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")

	fd, err := OpenFileDevice(path, 4*PageSize, SubpageSize, PageSize)
	require.NoError(t, err)
	dev, err := NewBlockDevice(fd, 0, PageSize)
	require.NoError(t, err)

	fresh, err := dev.Read(0, SubpageSize)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{ErasedByte}, SubpageSize), fresh)

	data := bytes.Repeat([]byte{0x33}, SubpageSize)
	require.NoError(t, dev.ProgramSubpage(PageSize, data))
	require.NoError(t, fd.Close())

	fd, err = OpenFileDevice(path, 4*PageSize, SubpageSize, PageSize)
	require.NoError(t, err)
	defer fd.Close()
	dev, err = NewBlockDevice(fd, 0, PageSize)
	require.NoError(t, err)

	got, err := dev.Read(PageSize, SubpageSize)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, dev.ErasePage(PageSize))
	got, err = dev.Read(PageSize, SubpageSize)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{ErasedByte}, SubpageSize), got)
}
