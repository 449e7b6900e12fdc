// Package device defines the boundary with a hardware signing device.
//
// Ownership boundary:
// - transport open/close (Opener, Transport)
// - device application commands (Application)
// - tagged device errors (Error, Kind)
//
// Implementations translate driver failures into *Error at this boundary so
// callers never inspect driver-specific error shapes.
package device
