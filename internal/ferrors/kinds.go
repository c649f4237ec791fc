package ferrors

import (
	"fmt"
	"strings"
)

// NewForgeRootNotFound reports a missing FORGE_ROOT configuration file.
func NewForgeRootNotFound(path string) *ForgeError {
	return &ForgeError{
		Kind:    "ForgeRootNotFound",
		Message: fmt.Sprintf("FORGE_ROOT configuration file not found in '%s'", path),
		Context: &ErrorContext{
			Operation: "Project Initialization",
			Suggestions: []string{
				"Create a FORGE_ROOT file with a [project] and [discovery] section",
				`Example: [project] name = "my-project" version = "1.0.0"`,
			},
		},
		ExitCode: ExitConfigError,
	}
}

// NewForgeRootConfigError wraps a FORGE_ROOT parse/validation failure.
func NewForgeRootConfigError(cause error) *ForgeError {
	return &ForgeError{
		Kind:     "ForgeRootConfigError",
		Message:  "FORGE_ROOT configuration error",
		Cause:    cause,
		ExitCode: ExitConfigError,
	}
}

// NewPreludeNotFound reports a missing required prelude directory.
func NewPreludeNotFound(path string) *ForgeError {
	return &ForgeError{
		Kind:    "PreludeNotFound",
		Message: fmt.Sprintf("prelude directory not found at '%s'", path),
		Context: &ErrorContext{
			Suggestions: []string{
				"Ensure the prelude directory exists and contains the required build system modules",
			},
		},
		ExitCode: ExitConfigError,
	}
}

// NewNoForgeFilesFound reports that discovery found zero script files.
func NewNoForgeFilesFound(searchedPaths string) *ForgeError {
	return &ForgeError{
		Kind:    "NoForgeFilesFound",
		Message: "no FORGE files found in project",
		Context: &ErrorContext{
			Details: map[string]any{"searched": searchedPaths},
			Suggestions: []string{
				"Create FORGE files in your source directories",
				"Update the 'include' patterns in FORGE_ROOT",
			},
		},
		ExitCode: ExitDiscoveryError,
	}
}

// NewInvalidForgeFile reports an empty or rule-less FORGE file.
func NewInvalidForgeFile(file, reason string) *ForgeError {
	return &ForgeError{
		Kind:    "InvalidForgeFile",
		Message: fmt.Sprintf("invalid FORGE file: %s", file),
		Context: &ErrorContext{
			Details:     map[string]any{"error": reason},
			Suggestions: []string{"Add at least one rule() call to define build steps"},
		},
		ExitCode: ExitDiscoveryError,
	}
}

// NewScriptExecutionError wraps an interpreter failure while evaluating a
// FORGE file.
func NewScriptExecutionError(file string, cause error) *ForgeError {
	return &ForgeError{
		Kind:    "ScriptExecutionError",
		Message: fmt.Sprintf("script execution error in %s", file),
		Cause:   cause,
		Context: &ErrorContext{
			Suggestions: []string{"Check your FORGE file syntax and ensure all required variables are defined"},
		},
		ExitCode: ExitScriptError,
	}
}

// NewCircularDependency reports a cycle left by Kahn's algorithm.
func NewCircularDependency(cycle []string, suggestion string) *ForgeError {
	return &ForgeError{
		Kind:    "CircularDependency",
		Message: fmt.Sprintf("circular dependency detected among rules: %s", strings.Join(cycle, " -> ")),
		Context: &ErrorContext{
			Suggestions: []string{suggestion},
		},
		ExitCode: ExitCircularDependency,
	}
}

// NewDependencyConflict reports an output produced by more than one rule.
func NewDependencyConflict(output string, rules []string) *ForgeError {
	return &ForgeError{
		Kind:    "DependencyConflict",
		Message: fmt.Sprintf("multiple rules produce output '%s': %v", output, rules),
		Context: &ErrorContext{
			Suggestions: []string{
				"Ensure each output file is produced by only one rule, or rename conflicting outputs",
			},
		},
		ExitCode: ExitDependencyConflict,
	}
}

// NewBuildFailed reports a non-zero rule command exit.
func NewBuildFailed(rule, stdout, stderr string) *ForgeError {
	return &ForgeError{
		Kind:    "BuildFailed",
		Message: fmt.Sprintf("build failed for rule '%s'", rule),
		Context: &ErrorContext{
			Details: map[string]any{"stdout": stdout, "stderr": stderr},
			Suggestions: []string{
				fmt.Sprintf("Check the command, arguments, and input files for rule '%s'", rule),
			},
		},
		ExitCode: ExitBuildFailed,
	}
}

// NewIOError wraps a filesystem or serialization failure.
func NewIOError(operation string, cause error) *ForgeError {
	return &ForgeError{
		Kind:     "IoError",
		Message:  fmt.Sprintf("I/O error during %s", operation),
		Cause:    cause,
		ExitCode: ExitIOError,
	}
}
