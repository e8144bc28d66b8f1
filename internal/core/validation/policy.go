package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// =============================================================================
// Types
// =============================================================================

// ValidationResult represents the outcome of a policy check.
type ValidationResult struct {
	// Allowed indicates whether the action may proceed
	Allowed bool

	// Reason explains why the action was refused (empty if Allowed is true)
	Reason string
}

func allowed() ValidationResult { return ValidationResult{Allowed: true} }

func refused(format string, args ...any) ValidationResult {
	return ValidationResult{Reason: fmt.Sprintf(format, args...)}
}

// Policy is the allow-list that gates host-level actions.
type Policy struct {
	AllowedServices     []string `mapstructure:"allowed_services" yaml:"allowed_services" json:"allowed_services"`
	AllowedPathPrefixes []string `mapstructure:"allowed_path_prefixes" yaml:"allowed_path_prefixes" json:"allowed_path_prefixes"`
}

// DefaultPolicy allows the common web stack units and application data
// directories. System directories are never on it.
func DefaultPolicy() Policy {
	return Policy{
		AllowedServices:     []string{"nginx", "apache2", "cron", "docker", "redis-server", "postgresql"},
		AllowedPathPrefixes: []string{"/var/log", "/var/www", "/srv", "/opt", "/tmp"},
	}
}

// =============================================================================
// Policy Checks
// =============================================================================

var serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9@._-]*$`)

// CheckService allows a service only if it is well formed and on the list.
func CheckService(p Policy, name string) ValidationResult {
	if !serviceNamePattern.MatchString(name) {
		return refused("invalid service name %q", name)
	}
	unit := strings.TrimSuffix(name, ".service")
	for _, s := range p.AllowedServices {
		if strings.TrimSuffix(s, ".service") == unit {
			return allowed()
		}
	}
	return refused("service %q is not on the allow-list", name)
}

// CheckPath allows an absolute path only if, once cleaned, it lies at or
// below one of the allowed prefixes. Traversal out of a prefix is refused.
//
// Example:
//
//	CheckPath(p, "/var/log/app.log")        // allowed
//	CheckPath(p, "/var/log/../../etc/shadow") // refused
func CheckPath(p Policy, target string) ValidationResult {
	if !strings.HasPrefix(target, "/") {
		return refused("path %q is not absolute", target)
	}
	if strings.ContainsRune(target, 0) {
		return refused("path contains a NUL byte")
	}
	clean := path.Clean(target)
	if clean == "/" {
		return refused("refusing to act on /")
	}
	for _, prefix := range p.AllowedPathPrefixes {
		prefix = path.Clean(prefix)
		if prefix == "/" || prefix == "." {
			continue
		}
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return allowed()
		}
	}
	return refused("path %q is outside the allowed prefixes", clean)
}

// ValidatePolicy checks that the policy itself is usable.
func ValidatePolicy(p Policy) (field, message string) {
	for _, s := range p.AllowedServices {
		if !serviceNamePattern.MatchString(s) {
			return "policy.allowed_services", fmt.Sprintf("invalid service name %q", s)
		}
	}
	for _, prefix := range p.AllowedPathPrefixes {
		if !strings.HasPrefix(prefix, "/") {
			return "policy.allowed_path_prefixes", fmt.Sprintf("prefix %q is not absolute", prefix)
		}
		if path.Clean(prefix) == "/" {
			return "policy.allowed_path_prefixes", "the root directory cannot be allowed"
		}
	}
	return "", ""
}
