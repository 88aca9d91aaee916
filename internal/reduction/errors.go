// Package reduction derives station activity signatures, partitions stations
// into equivalence classes and aggregates sensor frequencies per class.
//
// Every operation works on a single *entities.Field and touches nothing
// outside it, so distinct fields can be reduced concurrently.
package reduction

import "errors"

var (
	// ErrMissingSignature is returned when a station is partitioned before its
	// signatures were computed.
	ErrMissingSignature = errors.New("station signatures not computed")

	// ErrInconsistentSignatureLength is returned when a signature no longer
	// matches the number of sensors its field declares.
	ErrInconsistentSignatureLength = errors.New("signature length does not match sensor count")

	// ErrEmptyGroup signals a group without members.
	ErrEmptyGroup = errors.New("group has no members")
)
