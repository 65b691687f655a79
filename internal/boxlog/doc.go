// Package boxlog wraps zerolog for the boxlite core.
//
// Init() configures the process-wide Logger once at startup; every
// subsystem then derives a child logger via WithComponent/WithBoxID so
// log lines stay attributable without threading a logger through every
// function signature.
package boxlog
