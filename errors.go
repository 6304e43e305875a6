package neodap

import "fmt"

// ErrUnsupportedCapability is returned when a capability-gated operation is
// invoked against a session whose adapter never advertised the capability
// (spec.md §7: "the core short-circuits... without touching the wire").
type ErrUnsupportedCapability struct {
	Capability string
}

func (e *ErrUnsupportedCapability) Error() string {
	return fmt.Sprintf("neodap: adapter does not support %s", e.Capability)
}

// ErrExpired is returned when code references an entity whose owning stack
// is no longer current (spec.md §3 invariant 4, §7 "stale reference use").
// It is returned as *ErrExpired carrying the stale entity's URI so callers
// can log which reference went stale.
type ErrExpired struct {
	URI string
}

func (e *ErrExpired) Error() string {
	return fmt.Sprintf("neodap: %s is expired", e.URI)
}

func (e *ErrExpired) Is(target error) bool {
	_, ok := target.(*ErrExpired)
	return ok
}
