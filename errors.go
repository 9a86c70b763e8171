package sealpir

import "errors"

// Error kinds returned by this package. All of them are recoverable by the
// caller; none terminates the process. They are meant to be matched with
// [errors.Is] on errors returned by the [Server] methods.
var (
	// ErrInvalidArgument is returned when a caller-provided value is
	// absent or inconsistent (nil database, size mismatches, galois key
	// sets that do not cover the expansion elements).
	ErrInvalidArgument = errors.New("sealpir: invalid argument")

	// ErrIncompatibleParameters is returned by parameter updates that
	// attempt to change a structural field (ring degree or modulus
	// chain). Only the plaintext modulus and the PIR shape may change.
	ErrIncompatibleParameters = errors.New("sealpir: incompatible parameters")

	// ErrCapacityExceeded is returned when the encoded database requires
	// more plaintexts than the configured dimension vector provides.
	ErrCapacityExceeded = errors.New("sealpir: database capacity exceeded")

	// ErrMissingKey is returned when no usable galois key material exists
	// for a client, either because none was registered or because the
	// registered keys were stamped under an older parameter version.
	ErrMissingKey = errors.New("sealpir: missing galois key")

	// ErrMalformedQuery is returned when a query does not match the
	// configured dimension vector.
	ErrMalformedQuery = errors.New("sealpir: malformed query")

	// ErrInternal reports a broken internal invariant. It indicates a
	// configuration or logic defect rather than bad caller input.
	ErrInternal = errors.New("sealpir: internal invariant violation")
)
