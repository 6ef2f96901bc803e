package squidboot

import (
	"io"
	"io/ioutil"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"

	"github.com/amrbekhit/squidboot/settings"
	"github.com/amrbekhit/squidboot/wire"
)

// imageProgrammer loads application images through a Bootloader.
type imageProgrammer struct {
	bootloader Bootloader
	params     wire.Parameters
	connected  bool
	segments   []gohex.DataSegment
}

// NewProgrammer creates a programmer that uses bootloader.
func NewProgrammer(bootloader Bootloader) Programmer {
	return &imageProgrammer{bootloader: bootloader}
}

// LoadHex loads and parses the specified hex data.
func (p *imageProgrammer) LoadHex(data io.Reader) error {
	mem, err := loadHex(data)
	if err != nil {
		return errors.Wrap(err, "parse hex")
	}
	p.segments = mem.GetDataSegments()
	for _, segment := range p.segments {
		pkgLog.Debugf("loaded segment at %X length %v", segment.Address, len(segment.Data))
	}
	return nil
}

// LoadBinary loads a raw image placed at addr.
func (p *imageProgrammer) LoadBinary(data io.Reader, addr uint32) error {
	b, err := ioutil.ReadAll(data)
	if err != nil {
		return errors.Wrap(err, "read image")
	}
	p.segments = []gohex.DataSegment{{Address: addr, Data: b}}
	pkgLog.Debugf("loaded binary at %X length %v", addr, len(b))
	return nil
}

// Connect establishes a connection with the device and gets its parameters.
func (p *imageProgrammer) Connect() error {
	if err := p.bootloader.Connect(); err != nil {
		return errors.Wrap(err, "failed to open bootloader")
	}
	params, err := p.bootloader.GetParameters()
	if err != nil {
		return errors.Wrap(err, "failed to get device parameters")
	}
	if err := params.Validate(); err != nil {
		return errors.Wrap(err, "device parameters")
	}
	p.params = params
	p.connected = true
	return nil
}

// Disconnect closes the connection with the device.
func (p *imageProgrammer) Disconnect() {
	p.bootloader.Disconnect()
	p.connected = false
}

// GetParameters returns the parameters read by Connect.
func (p *imageProgrammer) GetParameters() wire.Parameters {
	return p.params
}

// Image lays the loaded data out for the connected device.
func (p *imageProgrammer) Image() (Image, error) {
	if !p.connected {
		return Image{}, ErrNotConnected
	}
	if p.segments == nil {
		return Image{}, errors.New("no image loaded")
	}
	return buildImage(p.segments, p.params)
}

// Program writes the image previously loaded with LoadHex or LoadBinary. A
// session left over from an earlier run is aborted first.
func (p *imageProgrammer) Program() error {
	img, err := p.Image()
	if err != nil {
		return err
	}

	status, err := p.bootloader.GetStatus()
	if err != nil {
		return errors.Wrap(err, "failed to get status")
	}
	if _, idle := status.(wire.StatusIdle); !idle {
		pkgLog.Infof("aborting bootload in progress (%T)", status)
		if err := p.bootloader.AbortBootload(); err != nil {
			return errors.Wrap(err, "failed to abort bootload")
		}
	}

	crc := img.CRC32()
	pkgLog.Infof("programming %d bytes at %X, crc %08X", len(img.Data), img.Start, crc)
	if err := p.bootloader.StartBootload(img.Start, uint32(len(img.Data)), crc); err != nil {
		return errors.Wrap(err, "failed to start bootload")
	}

	if err := writeChunks(img, p.params.DataChunkSize, p.writeChunk(crc)); err != nil {
		return errors.Wrap(err, "failed to write flash")
	}

	if _, err := p.bootloader.CompleteBootload(false); err != nil {
		return errors.Wrap(err, "failed to complete bootload")
	}
	return nil
}

// writeChunk returns a chunk writer that recovers from a lost
// acknowledgement: when the retried chunk is reported as skipped because the
// device already expects the next one, the device's running checksum is read
// from its status instead.
func (p *imageProgrammer) writeChunk(final uint32) func(uint32, []byte) (uint32, error) {
	return func(addr uint32, data []byte) (uint32, error) {
		crc, err := p.bootloader.WriteChunk(addr, data)
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			return crc, err
		}
		skipped, ok := cmdErr.Err.(wire.SkippedRange)
		if !ok || skipped.Expected != addr+uint32(len(data)) {
			return crc, err
		}

		pkgLog.Warnf("chunk at %X was already accepted", addr)
		status, serr := p.bootloader.GetStatus()
		if serr != nil {
			return 0, err
		}
		switch s := status.(type) {
		case wire.StatusLoading:
			return s.PartialCRC32, nil
		case wire.StatusAwaitingComplete:
			// The final checksum is checked by CompleteBootload.
			return final, nil
		}
		return 0, err
	}
}

// Verify reads back the image and compares it to the loaded data.
func (p *imageProgrammer) Verify() error {
	img, err := p.Image()
	if err != nil {
		return err
	}
	if err := verifyImage(img, p.params.ReadMax, p.bootloader.ReadRange); err != nil {
		return errors.Wrap(err, "failed to verify flash")
	}
	return nil
}

// WriteAppInfo replaces the app_len and app_crc settings, keeping every
// other setting.
func (p *imageProgrammer) WriteAppInfo() error {
	img, err := p.Image()
	if err != nil {
		return err
	}

	blob, err := p.bootloader.GetSettings()
	if err != nil {
		return errors.Wrap(err, "failed to read settings")
	}
	items, err := settings.ParseItems(blob.Data)
	if err != nil {
		pkgLog.Warnf("discarding unreadable settings: %v", err)
	}

	kept := items[:0]
	for _, it := range items {
		if it.Name != settings.AppLenName && it.Name != settings.AppCRCName {
			kept = append(kept, it)
		}
	}
	kept = append(kept,
		settings.Setting{Name: settings.AppLenName, Value: settings.U32(len(img.Data))},
		settings.Setting{Name: settings.AppCRCName, Value: settings.U32(img.CRC32())},
	)

	data, err := settings.EncodeItems(kept)
	if err != nil {
		return err
	}
	if uint32(len(data)) > p.params.SettingsMax {
		return errors.Errorf("settings of %d bytes exceed the device limit of %d", len(data), p.params.SettingsMax)
	}
	if err := p.bootloader.WriteSettings(data); err != nil {
		return errors.Wrap(err, "failed to write settings")
	}
	return nil
}

// Boot asks the device to start the application. Unless force is set the
// device refuses when the image does not match the app settings.
func (p *imageProgrammer) Boot(force bool) (wire.Bootable, error) {
	cmd := wire.BootIfBootable
	if force {
		cmd = wire.ForceBoot
	}
	will, status, err := p.bootloader.Boot(cmd)
	if err != nil {
		return wire.Bootable{}, errors.Wrap(err, "failed to boot")
	}
	if !will {
		return status, errors.Errorf("device is not bootable: %v", status.Verdict)
	}
	return status, nil
}
