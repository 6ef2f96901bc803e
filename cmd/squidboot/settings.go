package main

import (
	"encoding/hex"
	"strings"

	"github.com/amrbekhit/squidboot/settings"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const settingsExample = `serial: SN-0042        # ascii
baud: 115200           # u32
gain: 1.5              # f32
key: [0xDE, 0xAD]      # bytes
mac: hex:0011223344aa  # bytes
`

// parseSettingsYAML converts a yaml mapping into settings, keeping the file
// order. Integers become u32, floats f32, lists of integers and strings
// prefixed with "hex:" become bytes, and any other string becomes ascii.
func parseSettingsYAML(data []byte) ([]settings.Setting, error) {
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	items := make([]settings.Setting, 0, len(doc))
	for _, kv := range doc {
		name, ok := kv.Key.(string)
		if !ok {
			return nil, errors.Errorf("setting name %v is not a string", kv.Key)
		}
		v, err := settingValue(kv.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "setting %q", name)
		}
		items = append(items, settings.Setting{Name: name, Value: v})
	}
	return items, nil
}

func settingValue(v interface{}) (settings.Value, error) {
	switch v := v.(type) {
	case int:
		if v < 0 || uint64(v) > 0xFFFFFFFF {
			return nil, errors.Errorf("%d does not fit in a u32", v)
		}
		return settings.U32(v), nil
	case uint64:
		if v > 0xFFFFFFFF {
			return nil, errors.Errorf("%d does not fit in a u32", v)
		}
		return settings.U32(v), nil
	case float64:
		return settings.F32(v), nil
	case string:
		if h := strings.TrimPrefix(v, "hex:"); h != v {
			b, err := hex.DecodeString(h)
			if err != nil {
				return nil, err
			}
			return settings.Bytes(b), nil
		}
		return settings.ASCII(v), nil
	case []interface{}:
		b := make([]byte, len(v))
		for i, e := range v {
			n, ok := e.(int)
			if !ok || n < 0 || n > 0xFF {
				return nil, errors.Errorf("byte %d (%v) is not in 0..255", i, e)
			}
			b[i] = byte(n)
		}
		return settings.Bytes(b), nil
	}
	return nil, errors.Errorf("unsupported value %v (%T)", v, v)
}
