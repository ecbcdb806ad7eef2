package anchorsig

import "errors"

var (
	// ErrUnknownKey is returned by KeyStore.Sign when asked to sign with
	// a public key it does not hold the private half of.
	ErrUnknownKey = errors.New("anchorsig: unknown signing key")

	// ErrInputOutOfRange is returned when an operation references a
	// transaction input index that does not exist.
	ErrInputOutOfRange = errors.New("anchorsig: input index out of range")

	// ErrInsufficientSignatures is returned by Finalize when an input
	// does not have at least majority signatures to assemble a witness.
	ErrInsufficientSignatures = errors.New("anchorsig: insufficient signatures for input")

	// ErrInvalidSignature is returned by VerifyInput when a signature
	// fails to parse or does not verify against the sighash.
	ErrInvalidSignature = errors.New("anchorsig: signature does not verify")
)
