package devices

import (
	"context"
	"sync"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/cmn/cos"
	"github.com/bec-fabric/bec/cmn/nlog"
	"github.com/bec-fabric/bec/msg"
)

// Registry is the process-wide device catalog. A per-component reentrant
// lock guards the map, matching §5's "per-component reentrant lock guards
// each mutable collection" — hot reads snapshot under RLock and never do
// network I/O while held.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device

	b   broker.Broker
	sub broker.Subscription
}

func New(b broker.Broker) *Registry {
	return &Registry{devices: map[string]*Device{}, b: b}
}

// Start subscribes to internal/devices/config_update so config mutations
// issued by any process (including this one's own SendConfigRequest round
// trip) land in this registry, per §3's "never written locally without
// acknowledgment" invariant.
func (r *Registry) Start(ctx context.Context) error {
	sub, err := r.b.Subscribe(ctx, msg.EP.DeviceConfigUpdate(), func(m broker.Msg) {
		env, err := msg.Decode(m.Payload)
		if err != nil {
			nlog.Warningf("devices: dropping malformed config update: %v", err)
			return
		}
		r.applyConfigUpdate(env)
	})
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

func (r *Registry) Shutdown() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}

// Get returns a value copy of the named device, so callers can't mutate
// the registry's state outside the config-request round trip.
func (r *Registry) Get(name string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[name]
	if !ok {
		return nil, false
	}
	return d.clone(), true
}

// All returns a snapshot of every device, value-copied.
func (r *Registry) All() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.clone())
	}
	return out
}

// Monitored returns enabled devices whose readoutPriority is "monitored",
// excluding async-scheduled and disabled devices, per the original's
// monitored_devices() exclusion rules.
func (r *Registry) Monitored() []*Device {
	return r.filter(func(d *Device) bool {
		return d.Enabled && d.AcquisitionConfig.Schedule == Sync && d.AcquisitionConfig.ReadoutPriority == Monitored
	})
}

// Baseline returns enabled devices tagged for a one-shot baseline read
// (§6's baseline_reading), excluding monitored/async/ignored devices.
func (r *Registry) Baseline() []*Device {
	return r.filter(func(d *Device) bool {
		return d.Enabled && d.AcquisitionConfig.ReadoutPriority == Baseline
	})
}

// Async returns enabled devices whose schedule is async, the set the
// segment bundler (component J) excludes from row completion (§4.7).
func (r *Registry) Async() []*Device {
	return r.filter(func(d *Device) bool {
		return d.Enabled && (d.AcquisitionConfig.Schedule == ASync || d.AcquisitionConfig.ReadoutPriority == Async)
	})
}

func (r *Registry) WithTag(tag string) []*Device {
	return r.filter(func(d *Device) bool { return d.hasTag(tag) })
}

func (r *Registry) filter(pred func(*Device) bool) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Device
	for _, d := range r.devices {
		if pred(d) {
			out = append(out, d.clone())
		}
	}
	return out
}

// SendConfigRequest validates and publishes a config_request envelope and
// returns once it is published; it does not wait for the matching
// config_update, which this registry applies whenever it arrives. action is one of update/add/remove/reload/set, mirroring
// original_source's DeviceManagerBase.check_request_validity.
func (r *Registry) SendConfigRequest(ctx context.Context, action string, config map[string]map[string]any) error {
	if err := validateConfigRequest(r, action, config); err != nil {
		return err
	}
	env := msg.New(msg.KindDeviceConfigRequest, map[string]any{
		"action": action,
		"config": config,
	}, map[string]any{})
	payload, err := msg.Encode(env)
	if err != nil {
		return err
	}
	return r.b.Publish(ctx, msg.EP.DeviceConfigRequest(), payload)
}

func validateConfigRequest(r *Registry, action string, config map[string]map[string]any) error {
	switch action {
	case "update", "add", "remove", "reload", "set":
	default:
		return cos.NewErrDeviceConfig("", "action must be one of update, add, remove, set, reload")
	}
	if action != "reload" && len(config) == 0 {
		return cos.NewErrDeviceConfig("", "config cannot be empty for add/remove/set/update")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for dev := range config {
		_, exists := r.devices[dev]
		switch action {
		case "update", "remove":
			if !exists {
				return cos.NewErrDeviceConfig(dev, "device does not exist and cannot be updated/removed")
			}
		case "add":
			if exists {
				return cos.NewErrDeviceConfig(dev, "device already exists and cannot be added")
			}
		}
	}
	return nil
}

// applyConfigUpdate mutates the registry from a config_update envelope,
// the sole path by which deviceConfig/enabled/tags/etc. actually change,
// per original_source's DeviceManagerBase.parse_config_message.
func (r *Registry) applyConfigUpdate(env *msg.Envelope) {
	action, _ := env.Content["action"].(string)
	rawConfig, _ := env.Content["config"].(map[string]any)

	r.mu.Lock()
	defer r.mu.Unlock()

	switch action {
	case "update", "set":
		for name, raw := range rawConfig {
			fields, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			d, ok := r.devices[name]
			if !ok {
				continue
			}
			applyFields(d, fields)
		}
	case "add":
		for name, raw := range rawConfig {
			fields, _ := raw.(map[string]any)
			d := &Device{Name: name, UserParameter: map[string]any{}, DeviceConfig: DeviceConfig{Extra: map[string]any{}}}
			applyFields(d, fields)
			r.devices[name] = d
		}
	case "remove":
		for name := range rawConfig {
			delete(r.devices, name)
		}
	case "reload":
		r.devices = map[string]*Device{}
	}
}

func applyFields(d *Device, fields map[string]any) {
	if v, ok := fields["deviceClass"].(string); ok {
		d.Class = v
	}
	if v, ok := fields["enabled"].(bool); ok {
		d.Enabled = v
	}
	if v, ok := fields["enabledSet"].(bool); ok {
		d.EnabledSet = v
	}
	if v, ok := fields["onFailure"].(string); ok {
		d.OnFailure = OnFailure(v)
	}
	if v, ok := fields["deviceTags"].([]any); ok {
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		d.DeviceTags = tags
	}
	if v, ok := fields["userParameter"].(map[string]any); ok {
		d.UserParameter = v
	}
	if v, ok := fields["deviceConfig"].(map[string]any); ok {
		applyDeviceConfig(&d.DeviceConfig, v)
	}
	if v, ok := fields["acquisitionConfig"].(map[string]any); ok {
		applyAcquisitionConfig(&d.AcquisitionConfig, v)
	}
}

func applyDeviceConfig(dc *DeviceConfig, v map[string]any) {
	if dc.Extra == nil {
		dc.Extra = map[string]any{}
	}
	if lim, ok := v["limits"].([]any); ok && len(lim) == 2 {
		lo, _ := lim[0].(float64)
		hi, _ := lim[1].(float64)
		dc.Limits = [2]float64{lo, hi}
	}
	if tol, ok := v["tolerance"].(float64); ok {
		dc.Tolerance = tol
	}
	for k, val := range v {
		if k == "limits" || k == "tolerance" {
			continue
		}
		dc.Extra[k] = val
	}
}

func applyAcquisitionConfig(ac *AcquisitionConfig, v map[string]any) {
	if rp, ok := v["readoutPriority"].(string); ok {
		ac.ReadoutPriority = ReadoutPriority(rp)
	}
	if sc, ok := v["schedule"].(string); ok {
		ac.Schedule = Schedule(sc)
	}
	if ag, ok := v["acquisitionGroup"].(string); ok {
		ac.AcquisitionGroup = ag
	}
}

// LoadFromBroker decodes the msgpacked device config list stored at
// internal/devices/config and replaces the registry's contents - the
// startup path mirroring original_source's _get_redis_device_config.
func (r *Registry) LoadFromBroker(ctx context.Context) error {
	raw, found, err := r.b.Get(ctx, msg.EP.DeviceConfig())
	if err != nil {
		return err
	}
	if !found {
		nlog.Warningf("devices: no config available at %s", msg.EP.DeviceConfig())
		return nil
	}
	entries, err := msg.DecodeDeviceConfigList(raw)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]*Device, len(entries))
	for _, e := range entries {
		d := &Device{
			Name:          e.Name,
			Class:         e.DeviceClass,
			Enabled:       e.Enabled,
			EnabledSet:    e.EnabledSet,
			DeviceTags:    e.DeviceTags,
			OnFailure:     OnFailure(e.OnFailure),
			UserParameter: e.UserParameter,
		}
		applyDeviceConfig(&d.DeviceConfig, e.DeviceConfig)
		applyAcquisitionConfig(&d.AcquisitionConfig, e.AcquisitionConfig)
		r.devices[e.Name] = d
	}
	return nil
}

// PersistToBroker msgpack-encodes the current device list and stores it
// at internal/devices/config, the counterpart to LoadFromBroker.
func (r *Registry) PersistToBroker(ctx context.Context) error {
	r.mu.RLock()
	entries := make([]msg.DeviceConfigEntry, 0, len(r.devices))
	for _, d := range r.devices {
		dc := map[string]any{"tolerance": d.DeviceConfig.Tolerance}
		if d.DeviceConfig.Limits != [2]float64{} {
			dc["limits"] = []any{d.DeviceConfig.Limits[0], d.DeviceConfig.Limits[1]}
		}
		for k, v := range d.DeviceConfig.Extra {
			dc[k] = v
		}
		ac := map[string]any{
			"readoutPriority":  string(d.AcquisitionConfig.ReadoutPriority),
			"schedule":         string(d.AcquisitionConfig.Schedule),
			"acquisitionGroup": d.AcquisitionConfig.AcquisitionGroup,
		}
		entries = append(entries, msg.DeviceConfigEntry{
			Name:              d.Name,
			DeviceClass:       d.Class,
			Enabled:           d.Enabled,
			EnabledSet:        d.EnabledSet,
			DeviceConfig:      dc,
			AcquisitionConfig: ac,
			DeviceTags:        d.DeviceTags,
			OnFailure:         string(d.OnFailure),
			UserParameter:     d.UserParameter,
		})
	}
	r.mu.RUnlock()

	payload, err := msg.EncodeDeviceConfigList(entries)
	if err != nil {
		return err
	}
	return r.b.Set(ctx, msg.EP.DeviceConfig(), payload)
}
