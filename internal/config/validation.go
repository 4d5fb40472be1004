package config

import (
	"fmt"
	"strings"

	"github.com/vmwire/vmwire/internal/security"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Err returns nil when empty so callers can return it directly
func (e ValidationErrors) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// ValidateHostConfig validates a host configuration and its gateway chain
func ValidateHostConfig(config *HostConfig) ValidationErrors {
	var errors ValidationErrors

	if config.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "host",
			Message: "host is required",
		})
	}

	if config.Port != 0 && (config.Port < 1 || config.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "local_port",
			Message: "port must be between 1 and 65535",
		})
	}

	if config.User != "" {
		if err := security.ValidateUnixUser(config.User); err != nil {
			errors = append(errors, ValidationError{
				Field:   "user",
				Message: err.Error(),
			})
		}
	}

	if config.Gateway != nil {
		for _, e := range ValidateHostConfig(config.Gateway) {
			e.Field = "gateway." + e.Field
			errors = append(errors, e)
		}
	}

	return errors
}

// ValidateInterfaceConfig checks the mandatory fields of an interface for
// its kind. It performs no host access.
func ValidateInterfaceConfig(config *InterfaceConfig) ValidationErrors {
	var errors ValidationErrors

	required := func(field, value string) {
		if value == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s is required for %s interfaces", field, config.Kind),
			})
		}
	}

	switch config.Kind {
	case KindBridge:
		required("name", config.Name)
	case KindTap:
		required("name", config.Name)
		required("mac_address", config.MACAddress)
		if (config.IPAddress == "") == (config.Master == "") {
			errors = append(errors, ValidationError{
				Field:   "ip_address",
				Message: "exactly one of 'ip_address' or 'master' is required for tap interfaces",
			})
		}
	case KindMacVtap:
		required("name", config.Name)
		required("master", config.Master)
		required("mac_address", config.MACAddress)
	case KindMacVlan:
		required("name", config.Name)
		required("master", config.Master)
		required("ip_address", config.IPAddress)
	case KindUser:
		required("mac_address", config.MACAddress)
		required("name", config.Name)
	case "":
		return append(errors, ValidationError{
			Field:   "type",
			Message: "interface type is required",
		})
	default:
		return append(errors, ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported interface type '%s' (use bridge, tap, macvtap, macvlan or user)", config.Kind),
		})
	}

	if config.Name != "" {
		if err := security.ValidateInterfaceName(config.Name); err != nil {
			errors = append(errors, ValidationError{Field: "name", Message: err.Error()})
		}
	}
	if config.Master != "" {
		if err := security.ValidateInterfaceName(config.Master); err != nil {
			errors = append(errors, ValidationError{Field: "master", Message: err.Error()})
		}
	}
	if config.MACAddress != "" {
		if err := security.ValidateMACAddress(config.MACAddress); err != nil {
			errors = append(errors, ValidationError{Field: "mac_address", Message: err.Error()})
		}
	}
	if config.IPAddress != "" {
		if err := security.ValidateIPAddress(config.IPAddress); err != nil {
			errors = append(errors, ValidationError{Field: "ip_address", Message: err.Error()})
		}
	}
	if config.QueueCount < 0 {
		errors = append(errors, ValidationError{
			Field:   "queue_count",
			Message: "queue_count must be a positive number",
		})
	}
	for i, child := range config.Children {
		if config.Kind != KindBridge {
			errors = append(errors, ValidationError{
				Field:   "children",
				Message: "only bridge interfaces can have children",
			})
			break
		}
		if err := security.ValidateInterfaceName(child); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("children[%d]", i),
				Message: err.Error(),
			})
		}
	}

	return errors
}
