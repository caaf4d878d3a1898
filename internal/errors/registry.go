package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Lifecycle Errors (E001-E019)
	// ============================================

	"E001": {
		Category:   CategoryLifecycle,
		Message:    "Node destroyed",
		Suggestion: "Register listeners before the node is destroyed, or bind them with a dependent node",
	},
	"E002": {
		Category: CategoryLifecycle,
		Message:  "Handler cannot be nil",
	},
	"E003": {
		Category:   CategoryLifecycle,
		Message:    "Source node destroyed",
		Suggestion: "Set binder.destroyedSource to \"ignore\" to treat this as a listener that never fires",
	},
	"E004": {
		Category: CategoryLifecycle,
		Message:  "Failed to unregister listener",
	},
	"E005": {
		Category: CategoryLifecycle,
		Message:  "Listener panicked",
	},

	// ============================================
	// Config Errors (E100-E119)
	// ============================================

	"E100": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Suggestion: "Pass --config or create scopebind.json in the working directory",
	},
	"E101": {
		Category:   CategoryConfig,
		Message:    "Invalid config file",
		Suggestion: "Check that the file is valid JSON (or TOML for .toml files)",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid config value",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Failed to write config file",
	},

	// ============================================
	// Protocol Errors (E200-E219)
	// ============================================

	"E200": {
		Category: CategoryProtocol,
		Message:  "Malformed message",
	},
	"E201": {
		Category:   CategoryProtocol,
		Message:    "Unknown operation",
		Suggestion: "Use one of: subscribe, unsubscribe, emit, broadcast",
	},
	"E202": {
		Category: CategoryProtocol,
		Message:  "Missing field",
	},
	"E203": {
		Category: CategoryProtocol,
		Message:  "Unknown subscription",
	},
	"E204": {
		Category: CategoryProtocol,
		Message:  "Duplicate subscription id",
	},
	"E205": {
		Category: CategoryProtocol,
		Message:  "Room closed",
	},

	// ============================================
	// Scenario Errors (E300-E319)
	// ============================================

	"E300": {
		Category:   CategoryScenario,
		Message:    "Invalid scenario file",
		Suggestion: "Check that the file is valid YAML with a top-level steps list",
	},
	"E301": {
		Category:   CategoryScenario,
		Message:    "Unknown node",
		Suggestion: "Declare the node in an earlier step",
	},
	"E302": {
		Category: CategoryScenario,
		Message:  "Duplicate name",
	},
	"E303": {
		Category:   CategoryScenario,
		Message:    "Invalid step",
		Suggestion: "Each step must contain exactly one operation",
	},
	"E304": {
		Category:   CategoryScenario,
		Message:    "Unknown subscription",
		Suggestion: "Name the subscription with 'as' on the on or bind step",
	},
	"E305": {
		Category: CategoryScenario,
		Message:  "Expectation failed",
	},

	// ============================================
	// CLI Errors (E400-E419)
	// ============================================

	"E400": {
		Category: CategoryCLI,
		Message:  "Invalid arguments",
	},
	"E401": {
		Category: CategoryCLI,
		Message:  "Snapshot upload failed",
	},
}

// GetAllCodes returns all registered error codes in sorted order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
