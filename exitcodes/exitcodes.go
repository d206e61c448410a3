// Package exitcodes defines the standard exit codes used by op-reporter.
package exitcodes

// Exit code constants used by op-reporter
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every requested report artifact is generated
// * GenerationFailure (1): Used when one or more artifacts could not be produced
// * RuntimeErr (2): Used for runtime errors such as panics, bad configuration or unreadable input
const (
	Success           = 0 // Every artifact generated
	GenerationFailure = 1 // One or more artifacts failed
	RuntimeErr        = 2 // Runtime errors or timeouts
)
