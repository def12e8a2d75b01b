package msg

import (
	"bytes"

	"github.com/tinylib/msgp/msgp"
)

// DeviceConfigEntry is one row of the msgpacked list stored at
// internal/devices/config (§6.1). Hand-written Encode/Decode using the
// msgp low-level Writer/Reader, the same primitives the teacher's
// generated *_gen.go files call into (see xact/xs/lso.go's
// msgp.NewWriterBuf/NewReaderBuf usage) - no codegen tool runs here, so
// the wire format is produced directly against msgp.Writer/msgp.Reader.
type DeviceConfigEntry struct {
	Name               string
	DeviceClass        string
	Enabled            bool
	EnabledSet         bool
	DeviceConfig       map[string]any
	AcquisitionConfig  map[string]any
	DeviceTags         []string
	OnFailure          string
	UserParameter      map[string]any
}

// EncodeDeviceConfigList writes the full device config list as a single
// msgpacked array, matching §6.1's "device_config (k/v, msgpacked list)".
func EncodeDeviceConfigList(entries []DeviceConfigEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteArrayHeader(uint32(len(entries))); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := encodeDeviceConfigEntry(w, &e); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeDeviceConfigEntry(w *msgp.Writer, e *DeviceConfigEntry) error {
	if err := w.WriteMapHeader(9); err != nil {
		return err
	}
	fields := []struct {
		key string
		fn  func() error
	}{
		{"name", func() error { return w.WriteString(e.Name) }},
		{"deviceClass", func() error { return w.WriteString(e.DeviceClass) }},
		{"enabled", func() error { return w.WriteBool(e.Enabled) }},
		{"enabledSet", func() error { return w.WriteBool(e.EnabledSet) }},
		{"deviceConfig", func() error { return writeAnyMap(w, e.DeviceConfig) }},
		{"acquisitionConfig", func() error { return writeAnyMap(w, e.AcquisitionConfig) }},
		{"deviceTags", func() error { return writeStrSlice(w, e.DeviceTags) }},
		{"onFailure", func() error { return w.WriteString(e.OnFailure) }},
		{"userParameter", func() error { return writeAnyMap(w, e.UserParameter) }},
	}
	for _, f := range fields {
		if err := w.WriteString(f.key); err != nil {
			return err
		}
		if err := f.fn(); err != nil {
			return err
		}
	}
	return nil
}

// DecodeDeviceConfigList reads back the list produced by
// EncodeDeviceConfigList, round-tripping exactly (§8 property 1).
func DecodeDeviceConfigList(b []byte) ([]DeviceConfigEntry, error) {
	r := msgp.NewReader(bytes.NewReader(b))
	n, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	out := make([]DeviceConfigEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		e, err := decodeDeviceConfigEntry(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

func decodeDeviceConfigEntry(r *msgp.Reader) (*DeviceConfigEntry, error) {
	n, err := r.ReadMapHeader()
	if err != nil {
		return nil, err
	}
	e := &DeviceConfigEntry{}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		switch key {
		case "name":
			e.Name, err = r.ReadString()
		case "deviceClass":
			e.DeviceClass, err = r.ReadString()
		case "enabled":
			e.Enabled, err = r.ReadBool()
		case "enabledSet":
			e.EnabledSet, err = r.ReadBool()
		case "deviceConfig":
			e.DeviceConfig, err = readAnyMap(r)
		case "acquisitionConfig":
			e.AcquisitionConfig, err = readAnyMap(r)
		case "deviceTags":
			e.DeviceTags, err = readStrSlice(r)
		case "onFailure":
			e.OnFailure, err = r.ReadString()
		case "userParameter":
			e.UserParameter, err = readAnyMap(r)
		default:
			err = r.Skip()
		}
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

// EncodeAvailableScans msgpacks the scans/available_scans map (class name
// -> registration summary), per §6.1.
func EncodeAvailableScans(classes map[string]map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteMapHeader(uint32(len(classes))); err != nil {
		return nil, err
	}
	for name, info := range classes {
		if err := w.WriteString(name); err != nil {
			return nil, err
		}
		if err := writeAnyMap(w, info); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeAvailableScans(b []byte) (map[string]map[string]any, error) {
	r := msgp.NewReader(bytes.NewReader(b))
	n, err := r.ReadMapHeader()
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, n)
	for i := uint32(0); i < n; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		info, err := readAnyMap(r)
		if err != nil {
			return nil, err
		}
		out[name] = info
	}
	return out, nil
}

func writeAnyMap(w *msgp.Writer, m map[string]any) error {
	if err := w.WriteMapHeader(uint32(len(m))); err != nil {
		return err
	}
	for k, v := range m {
		if err := w.WriteString(k); err != nil {
			return err
		}
		if err := w.WriteIntf(v); err != nil {
			return err
		}
	}
	return nil
}

func readAnyMap(r *msgp.Reader) (map[string]any, error) {
	n, err := r.ReadMapHeader()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadIntf()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func writeStrSlice(w *msgp.Writer, s []string) error {
	if err := w.WriteArrayHeader(uint32(len(s))); err != nil {
		return err
	}
	for _, v := range s {
		if err := w.WriteString(v); err != nil {
			return err
		}
	}
	return nil
}

func readStrSlice(r *msgp.Reader) ([]string, error) {
	n, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
