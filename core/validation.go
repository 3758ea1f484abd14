package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
)

// StepStatus represents the status of a startup validation step.
type StepStatus int

const (
	StepPassed StepStatus = iota
	StepFailed
	StepWarning
)

// ValidationStep is one named check with its result.
type ValidationStep struct {
	Name    string
	Status  StepStatus
	Message string
	Err     error
}

// SuiteResult is the aggregate outcome of running all startup checks.
type SuiteResult struct {
	Steps       []ValidationStep
	PassedSteps int
	FailedSteps int
	Warnings    int
	Duration    time.Duration
	Success     bool
}

// ValidationSuite runs the startup checks the process needs before it
// assembles the pipeline: configuration sanity, device list shape, backend
// credentials, and writable paths. Progress is printed with colored console
// output so misconfiguration is obvious when run interactively.
type ValidationSuite struct {
	output       io.Writer
	cfg          *Config
	showProgress bool
}

// NewValidationSuite creates a suite for the given configuration.
func NewValidationSuite(cfg *Config) *ValidationSuite {
	return &ValidationSuite{
		output:       os.Stdout,
		cfg:          cfg,
		showProgress: true,
	}
}

// WithOutput sets the writer progress messages are printed to.
func (s *ValidationSuite) WithOutput(w io.Writer) *ValidationSuite {
	s.output = w
	return s
}

// WithShowProgress enables or disables progress output.
func (s *ValidationSuite) WithShowProgress(show bool) *ValidationSuite {
	s.showProgress = show
	return s
}

// Validate runs all checks and returns the aggregate result.
func (s *ValidationSuite) Validate() SuiteResult {
	start := time.Now()
	var result SuiteResult

	s.runStep(&result, "configuration", func() (StepStatus, string, error) {
		if errs := s.cfg.Validate(); len(errs) > 0 {
			return StepFailed, fmt.Sprintf("%d problem(s)", len(errs)), errs[0]
		}
		return StepPassed, "all values in range", nil
	})

	s.runStep(&result, "device lists", func() (StepStatus, string, error) {
		msg := fmt.Sprintf("speech=%v image=%v", s.cfg.SpeechDevices, s.cfg.ImageDevices)
		return StepPassed, msg, nil
	})

	s.runStep(&result, "backend credentials", func() (StepStatus, string, error) {
		if s.cfg.OpenAIAPIKey == "" {
			// Without credentials every request resolves through the
			// fallback renderer. Startup still succeeds.
			return StepWarning, "OPENAI_API_KEY not set; all output will use the fallback renderer", nil
		}
		return StepPassed, "api key present", nil
	})

	s.runStep(&result, "journal directory", func() (StepStatus, string, error) {
		dir := filepath.Dir(s.cfg.JournalPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return StepFailed, "cannot create " + dir, err
		}
		return StepPassed, dir, nil
	})

	result.Duration = time.Since(start)
	result.Success = result.FailedSteps == 0
	return result
}

// runStep executes one check, records it, and prints its status line.
func (s *ValidationSuite) runStep(result *SuiteResult, name string, fn func() (StepStatus, string, error)) {
	status, message, err := fn()
	result.Steps = append(result.Steps, ValidationStep{
		Name:    name,
		Status:  status,
		Message: message,
		Err:     err,
	})

	switch status {
	case StepPassed:
		result.PassedSteps++
		s.printf("  %s %s: %s\n", color.GreenString("✓"), name, message)
	case StepWarning:
		result.Warnings++
		s.printf("  %s %s: %s\n", color.YellowString("!"), name, message)
	case StepFailed:
		result.FailedSteps++
		s.printf("  %s %s: %s (%v)\n", color.RedString("✗"), name, message, err)
	}
}

func (s *ValidationSuite) printf(format string, args ...interface{}) {
	if s.showProgress {
		fmt.Fprintf(s.output, format, args...)
	}
}
