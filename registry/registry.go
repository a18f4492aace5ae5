// Package registry holds the devices known to a client and their last observed state.
package registry

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-tds/profile"
)

// ErrComponentNotFound indicates a (function, number) pair that is not registered.
var ErrComponentNotFound = errors.New("tds: component not found")

// ErrDuplicateComponent indicates a second registration of the same (function, number) pair.
var ErrDuplicateComponent = errors.New("tds: duplicate component")

// Key identifies a device.
type Key struct {
	Function profile.Function
	Number   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Function, k.Number)
}

// Registry is the device lookup and state cache consumed by the client.
type Registry interface {
	// Resolve returns the device registered for (fn, number), or ErrComponentNotFound.
	Resolve(fn profile.Function, number int) (*Device, error)
	// Devices returns the devices of fn ordered by number.
	Devices(fn profile.Function) []*Device
	// AllDevices returns every device ordered by function, then number.
	AllDevices() []*Device
	// UpdateState records an observed state of d.
	UpdateState(d *Device, state profile.State)
}

// Device is one addressable output of the central unit.
//
// Its cached state is written by a single writer (the event dispatcher or a
// direct GET) and read concurrently; every write bumps Version, so a reader can
// tell a fresh observation of an unchanged value from no observation at all.
type Device struct {
	Function    profile.Function
	Number      int
	Description string

	state     atomic.Pointer[profile.State]
	version   atomic.Uint64
	updatedAt atomic.Int64
}

// NewDevice creates a device without a known state.
func NewDevice(fn profile.Function, number int, description string) *Device {
	return &Device{Function: fn, Number: number, Description: description}
}

// Key returns the device identity.
func (d *Device) Key() Key {
	return Key{Function: d.Function, Number: d.Number}
}

// State returns the last observed state; ok is false until the first observation.
func (d *Device) State() (state profile.State, ok bool) {
	s := d.state.Load()
	if s == nil {
		return profile.State{}, false
	}

	return *s, true
}

// Version returns the number of state observations recorded so far.
func (d *Device) Version() uint64 {
	return d.version.Load()
}

// UpdatedAt returns the time of the last observation, or the zero time.
func (d *Device) UpdatedAt() time.Time {
	ns := d.updatedAt.Load()
	if ns == 0 {
		return time.Time{}
	}

	return time.Unix(0, ns)
}

func (d *Device) String() string {
	if s, ok := d.State(); ok {
		return fmt.Sprintf("%s=%s", d.Key(), s)
	}

	return d.Key().String() + "=unknown"
}

func (d *Device) record(state profile.State) {
	d.state.Store(&state)
	d.updatedAt.Store(time.Now().UnixNano())
	d.version.Add(1)
}
