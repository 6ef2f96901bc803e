package main

import (
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"tinygo.org/x/tinyfs"

	"github.com/amrbekhit/squidboot/flash"
	"github.com/amrbekhit/squidboot/node"
	"github.com/amrbekhit/squidboot/settings"
	"github.com/amrbekhit/squidboot/wire"
)

// Settings filesystem geometry.
const (
	settingsBlockSize  = 4096
	settingsBlockCount = 16
	settingsWriteBlock = 256
)

type config struct {
	Parameters wire.Parameters
	Flash      struct {
		// Image is the file holding the flash contents. Empty keeps the
		// flash in memory.
		Image string
	}
	Settings struct {
		// Image is the file holding the settings filesystem. Empty keeps
		// the settings in memory.
		Image string
	}
	Serial struct {
		Port string
		Baud int
	}
}

func defaultConfig() *config {
	c := &config{Parameters: node.DefaultParameters()}
	c.Serial.Baud = 115200
	return c
}

func loadConfig(path string) (*config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	f, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	if err := yaml.UnmarshalStrict(f, c); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	if err := c.Parameters.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid parameters")
	}
	return c, nil
}

func (c *config) write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// device is a simulated node and the resources it holds open.
type device struct {
	node    *node.Node
	closers []io.Closer
}

func (d *device) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *config) openFlash(d *device) (flash.Device, error) {
	p := c.Parameters
	size := p.ValidFlashRead.Size()
	if c.Flash.Image == "" {
		return flash.NewSimulator(p.ValidFlashRead.Start, uint32(size), p.PageSize, p.SubpageSize, flash.ErasedByte), nil
	}
	f, err := flash.OpenFileDevice(c.Flash.Image, int64(size), int64(p.SubpageSize), int64(p.PageSize))
	if err != nil {
		return nil, errors.Wrap(err, "open flash image")
	}
	d.closers = append(d.closers, f)
	return flash.NewBlockDevice(f, p.ValidFlashRead.Start, p.PageSize)
}

func (c *config) openSettings(d *device) (*settings.Store, error) {
	var dev tinyfs.BlockDevice
	if c.Settings.Image == "" {
		dev = tinyfs.NewMemoryDevice(settingsWriteBlock, settingsBlockSize, settingsBlockCount)
	} else {
		f, err := flash.OpenFileDevice(c.Settings.Image, settingsBlockSize*settingsBlockCount, settingsWriteBlock, settingsBlockSize)
		if err != nil {
			return nil, errors.Wrap(err, "open settings image")
		}
		d.closers = append(d.closers, f)
		dev = f
	}
	backing, err := settings.NewLittleFSBacking(dev, true)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, backing)
	return settings.NewStore(c.Parameters.SettingsMax, backing)
}

// open builds the node described by c. sys is told when the node boots the
// application.
func (c *config) open(sys node.System) (*device, error) {
	d := new(device)
	fail := func(err error) (*device, error) {
		d.Close()
		return nil, err
	}

	fl, err := c.openFlash(d)
	if err != nil {
		return fail(err)
	}
	store, err := c.openSettings(d)
	if err != nil {
		return fail(err)
	}
	ram := &node.StaticMemory{
		Base: c.Parameters.ValidRAMRead.Start,
		Data: make([]byte, c.Parameters.ValidRAMRead.Size()),
	}

	d.node, err = node.New(node.Config{
		Parameters: c.Parameters,
		Flash:      fl,
		RAM:        ram,
		Settings:   store,
		System:     sys,
	})
	if err != nil {
		return fail(err)
	}
	return d, nil
}
