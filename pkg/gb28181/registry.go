package gb28181

import (
	"sync"
	"time"
)

// DeviceStatus is the registry's device lifecycle state.
type DeviceStatus string

const (
	StatusOnline      DeviceStatus = "online"
	StatusOffline     DeviceStatus = "offline"
	StatusRegistering DeviceStatus = "registering"
)

// Channel is one media channel a device exposes (one Catalog Item becomes
// one Channel once the device is fully enrolled).
type Channel struct {
	ChannelID string
	Name      string
}

// Device is the registry's internal record for a registered GB28181
// device — distinct from the external device-registry CRUD, which is an
// out-of-scope collaborator this core only feeds liveness facts to.
type Device struct {
	DeviceID      string
	IP            string
	Port          int
	Status        DeviceStatus
	LastKeepalive time.Time
	ExpiresSecs   int
	Channels      []Channel
}

// IsOnline reports whether the device's last keepalive is still within its
// expiry window as of now.
func (d Device) IsOnline(now time.Time) bool {
	return now.Sub(d.LastKeepalive) <= time.Duration(d.ExpiresSecs)*time.Second
}

// Registry is the core-internal device registry: device_id -> Device.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Register records a REGISTER (or refreshes an existing registration).
func (r *Registry) Register(deviceID, ip string, port, expiresSecs int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		d = &Device{DeviceID: deviceID}
		r.devices[deviceID] = d
	}
	d.IP = ip
	d.Port = port
	d.ExpiresSecs = expiresSecs
	d.LastKeepalive = time.Now()
	d.Status = StatusOnline
}

// Keepalive refreshes a device's last-seen time from a MESSAGE keepalive.
func (r *Registry) Keepalive(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return false
	}
	d.LastKeepalive = time.Now()
	d.Status = StatusOnline
	return true
}

// ApplyCatalog merges a parsed Catalog response's device list into the
// registry, creating entries for devices not yet seen; each item's device
// is set online or offline from the item's status.
func (r *Registry) ApplyCatalog(items []DeviceItem) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		d, ok := r.devices[item.DeviceID]
		if !ok {
			d = &Device{DeviceID: item.DeviceID, Status: StatusRegistering}
			r.devices[item.DeviceID] = d
		}
		d.Channels = append(d.Channels, Channel{ChannelID: item.DeviceID, Name: item.Name})
		if item.IsOnline() {
			d.Status = StatusOnline
			d.LastKeepalive = time.Now()
		} else {
			d.Status = StatusOffline
		}
	}
}

// Get returns a snapshot copy of one device's record.
func (r *Registry) Get(deviceID string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Reap marks online devices whose keepalive has expired as offline,
// keeping them in the registry, and returns their device IDs.
func (r *Registry) Reap(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []string
	for id, d := range r.devices {
		if d.Status != StatusOnline {
			continue
		}
		if !d.IsOnline(now) {
			d.Status = StatusOffline
			reaped = append(reaped, id)
		}
	}
	return reaped
}

// List returns a snapshot of every registered device.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	return out
}
