package command

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openwash/fleetd/core/model"
)

func validMachineBlock() map[string]any {
	return map[string]any{
		"ACTIVE":     true,
		"BANKNOTE":   true,
		"COIN":       false,
		"QR":         true,
		"SAVE_STATE": true,
		"ON_TIME":    "08:00",
		"OFF_TIME":   "22:00",
	}
}

func TestValidateApplyConfig(t *testing.T) {
	assert.NoError(t, ValidatePayload(model.CommandApplyConfig, map[string]any{"machine": validMachineBlock()}))

	// machine block is mandatory.
	assert.Error(t, ValidatePayload(model.CommandApplyConfig, nil))
	assert.Error(t, ValidatePayload(model.CommandApplyConfig, map[string]any{}))

	// Missing flag.
	m := validMachineBlock()
	delete(m, "QR")
	assert.Error(t, ValidatePayload(model.CommandApplyConfig, map[string]any{"machine": m}))

	// Flag of the wrong type.
	m = validMachineBlock()
	m["ACTIVE"] = "yes"
	assert.Error(t, ValidatePayload(model.CommandApplyConfig, map[string]any{"machine": m}))

	// Optional blocks validated when present.
	payload := map[string]any{
		"machine":  validMachineBlock(),
		"function": map[string]any{"foam": 12.5, "rinse": 9},
	}
	assert.NoError(t, ValidatePayload(model.CommandApplyConfig, payload))

	payload["function"] = map[string]any{"foam": "lots"}
	assert.Error(t, ValidatePayload(model.CommandApplyConfig, payload))

	payload = map[string]any{
		"machine": validMachineBlock(),
		"pricing": map[string]any{"base_fee": 10, "promotion": 0.5},
	}
	assert.NoError(t, ValidatePayload(model.CommandApplyConfig, payload))

	payload["pricing"] = map[string]any{"base_fee": "ten"}
	assert.Error(t, ValidatePayload(model.CommandApplyConfig, payload))

	payload = map[string]any{
		"machine":        validMachineBlock(),
		"function_start": map[string]any{"foam": 1},
		"function_end":   map[string]any{"foam": 2},
	}
	assert.NoError(t, ValidatePayload(model.CommandApplyConfig, payload))

	payload["function_end"] = "soon"
	assert.Error(t, ValidatePayload(model.CommandApplyConfig, payload))
}

func TestValidateRestart(t *testing.T) {
	assert.NoError(t, ValidatePayload(model.CommandRestart, nil))
	assert.NoError(t, ValidatePayload(model.CommandRestart, map[string]any{"delay_seconds": 10}))
	assert.Error(t, ValidatePayload(model.CommandRestart, map[string]any{"delay_seconds": -1}))
	assert.Error(t, ValidatePayload(model.CommandRestart, map[string]any{"delay_seconds": "soon"}))

	normalized := NormalizeRestart(nil)
	assert.Equal(t, DefaultRestartDelay, normalized["delay_seconds"])
	kept := NormalizeRestart(map[string]any{"delay_seconds": 30})
	assert.Equal(t, 30, kept["delay_seconds"])
}

func TestValidateCustom(t *testing.T) {
	assert.NoError(t, ValidatePayload(model.CommandCustom, map[string]any{"command": "unlock", "payload": map[string]any{"door": 2}}))
	assert.Error(t, ValidatePayload(model.CommandCustom, nil))
	assert.Error(t, ValidatePayload(model.CommandCustom, map[string]any{"command": ""}))
	assert.Error(t, ValidatePayload(model.CommandCustom, map[string]any{"command": 7}))
}

func TestValidateManualPayment(t *testing.T) {
	assert.NoError(t, ValidatePayload(model.CommandManualPayment, map[string]any{"amount": 50.0}))
	assert.Error(t, ValidatePayload(model.CommandManualPayment, nil))
	assert.Error(t, ValidatePayload(model.CommandManualPayment, map[string]any{"amount": 0}))
	assert.Error(t, ValidatePayload(model.CommandManualPayment, map[string]any{"amount": -5}))
	assert.Error(t, ValidatePayload(model.CommandManualPayment, map[string]any{"amount": "50"}))
}

func TestValidateUpdateFirmware(t *testing.T) {
	assert.NoError(t, ValidatePayload(model.CommandUpdateFirmware, nil))
	assert.NoError(t, ValidatePayload(model.CommandUpdateFirmware, map[string]any{"version": "1.4.2"}))
	assert.Error(t, ValidatePayload(model.CommandUpdateFirmware, map[string]any{"version": ""}))
	assert.Error(t, ValidatePayload(model.CommandUpdateFirmware, map[string]any{"version": 3}))
}

func TestValidateUnknownKind(t *testing.T) {
	assert.Error(t, ValidatePayload(model.CommandKind("REBOOT"), nil))
}
