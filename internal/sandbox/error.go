package sandbox

import "fmt"

// Child exit codes, distinct from target command codes so the parent can
// tell sandbox failure from command failure.
const (
	// ExitSetupFailed - a sandbox setup stage failed in the child.
	ExitSetupFailed = 126
	// ExitPolicyParse - the child could not parse its policy argument.
	ExitPolicyParse = 127
	// ExitTimeout - the parent killed the command at the deadline.
	ExitTimeout = 124
)

// SetupError reports a failed sandbox setup stage. Fatal to the command:
// enforcement is never silently downgraded mid-flight.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("sandbox setup failed at %s: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
