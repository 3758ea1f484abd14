package core

// Process exit codes. Kept small and stable so wrapper scripts can branch on
// them.
const (
	// ExitCodeSuccess indicates normal termination.
	ExitCodeSuccess = 0

	// ExitCodeError indicates a startup or runtime failure.
	ExitCodeError = 1

	// ExitCodeConfigError indicates invalid or missing configuration.
	ExitCodeConfigError = 2
)
