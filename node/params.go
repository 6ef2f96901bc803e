package node

import (
	"github.com/amrbekhit/squidboot/flash"
	"github.com/amrbekhit/squidboot/wire"
)

// DefaultParameters describes a 64 KiB part with 8 KiB of RAM whose first
// 16 KiB of flash hold the bootloader. The settings blob fills one page less
// its length and checksum words.
func DefaultParameters() wire.Parameters {
	return wire.Parameters{
		SettingsMax:    flash.PageSize - 4,
		DataChunkSize:  flash.PageSize,
		ValidRAMRead:   wire.Range{Start: 0x2000_0000, End: 0x2000_1FFF},
		ValidFlashRead: wire.Range{Start: 0x0000_0000, End: 0x0000_FFFF},
		ReadMax:        flash.PageSize,
		ValidAppRange:  wire.Range{Start: 0x0000_4000, End: 0x0000_FFFF},
		PageSize:       flash.PageSize,
		SubpageSize:    flash.SubpageSize,
	}
}

// AppGeometry returns the flash writer region for the parameters' app range.
func AppGeometry(p wire.Parameters) flash.Geometry {
	return flash.Geometry{
		Base:        p.ValidAppRange.Start,
		Size:        uint32(p.ValidAppRange.Size()),
		PageSize:    p.PageSize,
		SubpageSize: p.SubpageSize,
	}
}
