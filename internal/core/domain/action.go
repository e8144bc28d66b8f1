package domain

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Action Errors
// =============================================================================

var (
	ErrMissingActionTarget = errors.New("action target is required")
	ErrUnknownActionType   = errors.New("unknown action type")
)

// =============================================================================
// Action Type
// =============================================================================

// ActionType identifies a remediation operation.
type ActionType string

const (
	ActionRestartService    ActionType = "restart_service"
	ActionRestartContainer  ActionType = "restart_container"
	ActionRecreateContainer ActionType = "recreate_container"
	ActionFreeDiskSpace     ActionType = "free_disk_space"
	ActionCleanupResources  ActionType = "cleanup_resources"
	ActionClearCache        ActionType = "clear_cache"
	ActionRestoreNetwork    ActionType = "restore_network"
	ActionRestartNetwork    ActionType = "restart_network"
	ActionFixPermissions    ActionType = "fix_permissions"
	ActionRotateLogs        ActionType = "rotate_logs"
	ActionKillZombie        ActionType = "kill_zombie"
)

// AllActionTypes lists every action type in a stable order.
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionRestartService,
		ActionRestartContainer,
		ActionRecreateContainer,
		ActionFreeDiskSpace,
		ActionCleanupResources,
		ActionClearCache,
		ActionRestoreNetwork,
		ActionRestartNetwork,
		ActionFixPermissions,
		ActionRotateLogs,
		ActionKillZombie,
	}
}

// =============================================================================
// Action Spec
// =============================================================================

// ActionParams holds the targets an action may need. Which field is required
// depends on the action type; see ActionSpec.Validate.
type ActionParams struct {
	Service   string `json:"service,omitempty"`
	Container string `json:"container,omitempty"`
	Path      string `json:"path,omitempty"`
}

// ActionSpec is a candidate remediation: an action type plus its targets.
type ActionSpec struct {
	Type   ActionType   `json:"action_type"`
	Params ActionParams `json:"action_params"`
}

// Validate checks that the spec carries the target its type requires.
func (s ActionSpec) Validate() error {
	switch s.Type {
	case ActionRestartService:
		if s.Params.Service == "" {
			return fmt.Errorf("%w: %s needs a service", ErrMissingActionTarget, s.Type)
		}
	case ActionRestartContainer, ActionRecreateContainer:
		if s.Params.Container == "" {
			return fmt.Errorf("%w: %s needs a container", ErrMissingActionTarget, s.Type)
		}
	case ActionFixPermissions:
		if s.Params.Path == "" {
			return fmt.Errorf("%w: %s needs a path", ErrMissingActionTarget, s.Type)
		}
	case ActionFreeDiskSpace, ActionCleanupResources, ActionClearCache,
		ActionRestoreNetwork, ActionRestartNetwork, ActionRotateLogs, ActionKillZombie:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownActionType, s.Type)
	}
	return nil
}

// Target returns the most specific target of the action, or "" for host-wide
// actions.
func (s ActionSpec) Target() string {
	switch {
	case s.Params.Container != "":
		return s.Params.Container
	case s.Params.Service != "":
		return s.Params.Service
	case s.Params.Path != "":
		return s.Params.Path
	}
	return ""
}

func (s ActionSpec) String() string {
	if t := s.Target(); t != "" {
		return string(s.Type) + "(" + t + ")"
	}
	return string(s.Type)
}

// =============================================================================
// Action Result
// =============================================================================

// ActionResult is the outcome of executing one action.
type ActionResult struct {
	ActionType ActionType    `json:"action_type"`
	Params     ActionParams  `json:"action_params"`
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration_ns"`
	Success    bool          `json:"success"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// NewActionSuccess builds a successful result.
func NewActionSuccess(spec ActionSpec, output string, startedAt time.Time) ActionResult {
	return ActionResult{
		ActionType: spec.Type,
		Params:     spec.Params,
		Timestamp:  startedAt,
		Duration:   time.Since(startedAt),
		Success:    true,
		Output:     output,
	}
}

// NewActionFailure builds a failed result.
func NewActionFailure(spec ActionSpec, errMsg string, startedAt time.Time) ActionResult {
	return ActionResult{
		ActionType: spec.Type,
		Params:     spec.Params,
		Timestamp:  startedAt,
		Duration:   time.Since(startedAt),
		Success:    false,
		Error:      errMsg,
	}
}

// Spec returns the spec that produced this result.
func (r ActionResult) Spec() ActionSpec {
	return ActionSpec{Type: r.ActionType, Params: r.Params}
}
