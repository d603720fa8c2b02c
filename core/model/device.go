package model

import "fmt"

// DeviceType identifies the physical machine family.
type DeviceType string

const (
	DeviceWash   DeviceType = "WASH"
	DeviceDrying DeviceType = "DRYING"
)

// DeviceStatus is the administrative deployment status. It is set by
// operators and is independent of the liveness judgment derived from
// state reports: a DEPLOYED device can be offline and a DISABLED one
// can still be reporting.
type DeviceStatus string

const (
	DeviceDeployed DeviceStatus = "DEPLOYED"
	DeviceDisabled DeviceStatus = "DISABLED"
)

// Device represents one wash or drying machine in the fleet.
// LastState holds the most recent state report verbatim; it is
// replaced wholesale on every report, never merged.
type Device struct {
	ID        string         `json:"id"`
	Type      DeviceType     `json:"type"`
	Status    DeviceStatus   `json:"status"`
	Configs   Configs        `json:"configs"`
	LastState map[string]any `json:"last_state,omitempty"`
}

// Configs is the tagged configuration variant. Exactly one of Wash or
// Drying is populated, selected by the device's Type field.
type Configs struct {
	Wash   *WashConfig   `json:"wash,omitempty"`
	Drying *DryingConfig `json:"drying,omitempty"`
}

// WashConfig groups the system and sale sections applied to wash units.
type WashConfig struct {
	System map[string]any `json:"system"`
	Sale   map[string]any `json:"sale"`
}

// DryingConfig mirrors WashConfig for drying units.
type DryingConfig struct {
	System map[string]any `json:"system"`
	Sale   map[string]any `json:"sale"`
}

// Validate checks that the populated configs variant matches the
// device type.
func (d Device) Validate() error {
	switch d.Type {
	case DeviceWash:
		if d.Configs.Drying != nil {
			return fmt.Errorf("wash device %s carries drying configs", d.ID)
		}
	case DeviceDrying:
		if d.Configs.Wash != nil {
			return fmt.Errorf("drying device %s carries wash configs", d.ID)
		}
	default:
		return fmt.Errorf("unknown device type %q", d.Type)
	}
	return nil
}
