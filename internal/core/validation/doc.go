// Package validation provides pure validation functions for the healer's
// configuration, its action safety policy and API input.
//
// All functions are pure (no I/O, no side effects). The orchestrator and the
// API handlers call them before mutating state or touching the host.
//
// # Functions
//
//   - ValidateConfigUpdate: Bounds-check a partial runtime config update
//   - ValidateThresholds: Check that alerting thresholds sit above verification thresholds
//   - ValidateFaultFields: Check a fault submitted through the API
//   - CheckService / CheckPath: Apply the action allow-list policy
//
// # Usage
//
//	if field, msg := validation.ValidateConfigUpdate(update); field != "" {
//	    // Return 400 Bad Request with msg, leave config untouched
//	}
//
//	if res := validation.CheckService(policy, name); !res.Allowed {
//	    // Refuse the action with res.Reason
//	}
package validation
