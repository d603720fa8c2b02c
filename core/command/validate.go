package command

import (
	"math"

	"github.com/openwash/fleetd/core/model"
)

// ValidatePayload checks a command payload against the contract for
// its kind. It runs at the boundary, before any publish: a malformed
// payload never reaches the pending registry or the transport.
func ValidatePayload(kind model.CommandKind, payload map[string]any) error {
	switch kind {
	case model.CommandApplyConfig:
		return validateApplyConfig(payload)
	case model.CommandRestart:
		return validateRestart(payload)
	case model.CommandCustom:
		return validateCustom(payload)
	case model.CommandManualPayment:
		return validateManualPayment(payload)
	case model.CommandUpdateFirmware:
		return validateUpdateFirmware(payload)
	default:
		return &ValidationError{Field: "kind", Reason: "unknown command kind"}
	}
}

// machine block flags and fields required by APPLY_CONFIG.
var machineFlagFields = []string{"ACTIVE", "BANKNOTE", "COIN", "QR", "SAVE_STATE"}

func validateApplyConfig(payload map[string]any) error {
	if payload == nil {
		return &ValidationError{Field: "payload", Reason: "required"}
	}
	machine, ok := payload["machine"].(map[string]any)
	if !ok {
		return &ValidationError{Field: "machine", Reason: "block is required"}
	}
	for _, f := range machineFlagFields {
		if _, ok := machine[f].(bool); !ok {
			return &ValidationError{Field: "machine." + f, Reason: "flag is required"}
		}
	}
	for _, f := range []string{"ON_TIME", "OFF_TIME"} {
		if _, ok := machine[f].(string); !ok {
			return &ValidationError{Field: "machine." + f, Reason: "time string is required"}
		}
	}
	// Optional blocks are validated independently when present.
	if raw, ok := payload["function"]; ok {
		if err := validateNumberTable("function", raw); err != nil {
			return err
		}
	}
	if raw, ok := payload["pricing"]; ok {
		pricing, ok := raw.(map[string]any)
		if !ok {
			return &ValidationError{Field: "pricing", Reason: "must be an object"}
		}
		for _, f := range []string{"base_fee", "promotion", "work_period"} {
			if v, present := pricing[f]; present {
				if _, ok := finite(v); !ok {
					return &ValidationError{Field: "pricing." + f, Reason: "must be a finite number"}
				}
			}
		}
	}
	for _, block := range []string{"function_start", "function_end"} {
		if raw, ok := payload[block]; ok {
			if err := validateNumberTable(block, raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateNumberTable checks a per-function map of finite numbers,
// e.g. seconds of run time per currency unit.
func validateNumberTable(field string, raw any) error {
	table, ok := raw.(map[string]any)
	if !ok {
		return &ValidationError{Field: field, Reason: "must be an object"}
	}
	for name, v := range table {
		if _, ok := finite(v); !ok {
			return &ValidationError{Field: field + "." + name, Reason: "must be a finite number"}
		}
	}
	return nil
}

func validateRestart(payload map[string]any) error {
	if payload == nil {
		return nil
	}
	if v, ok := payload["delay_seconds"]; ok {
		d, isNum := finite(v)
		if !isNum || d < 0 {
			return &ValidationError{Field: "delay_seconds", Reason: "must be a non-negative number"}
		}
	}
	return nil
}

// DefaultRestartDelay applies when a RESTART payload omits
// delay_seconds.
const DefaultRestartDelay = 5

// NormalizeRestart fills in the default delay.
func NormalizeRestart(payload map[string]any) map[string]any {
	if payload == nil {
		payload = map[string]any{}
	}
	if _, ok := payload["delay_seconds"]; !ok {
		payload["delay_seconds"] = DefaultRestartDelay
	}
	return payload
}

func validateCustom(payload map[string]any) error {
	if payload == nil {
		return &ValidationError{Field: "command", Reason: "required"}
	}
	if s, ok := payload["command"].(string); !ok || s == "" {
		return &ValidationError{Field: "command", Reason: "non-empty string is required"}
	}
	return nil
}

func validateManualPayment(payload map[string]any) error {
	if payload == nil {
		return &ValidationError{Field: "amount", Reason: "required"}
	}
	amount, ok := finite(payload["amount"])
	if !ok || amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be a positive number"}
	}
	return nil
}

func validateUpdateFirmware(payload map[string]any) error {
	if payload == nil {
		return nil
	}
	if v, ok := payload["version"]; ok {
		if s, isStr := v.(string); !isStr || s == "" {
			return &ValidationError{Field: "version", Reason: "must be a non-empty string"}
		}
	}
	return nil
}

func finite(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
