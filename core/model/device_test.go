package model

import "testing"

func TestDeviceValidate(t *testing.T) {
	wash := Device{ID: "w1", Type: DeviceWash, Status: DeviceDeployed, Configs: Configs{Wash: &WashConfig{}}}
	if err := wash.Validate(); err != nil {
		t.Fatalf("valid wash device rejected: %v", err)
	}

	crossed := Device{ID: "w2", Type: DeviceWash, Configs: Configs{Drying: &DryingConfig{}}}
	if err := crossed.Validate(); err == nil {
		t.Fatal("wash device with drying configs accepted")
	}

	crossed = Device{ID: "d1", Type: DeviceDrying, Configs: Configs{Wash: &WashConfig{}}}
	if err := crossed.Validate(); err == nil {
		t.Fatal("drying device with wash configs accepted")
	}

	unknown := Device{ID: "x", Type: "FOLDING"}
	if err := unknown.Validate(); err == nil {
		t.Fatal("unknown device type accepted")
	}

	// No configs at all is fine for either type.
	bare := Device{ID: "d2", Type: DeviceDrying}
	if err := bare.Validate(); err != nil {
		t.Fatalf("bare drying device rejected: %v", err)
	}
}
