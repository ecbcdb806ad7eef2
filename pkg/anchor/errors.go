package anchor

import "errors"

var (
	// ErrNotAnchoringValidator is returned by Machine.HandleCommit when
	// this node holds no anchoring bitcoin key for the active config.
	ErrNotAnchoringValidator = errors.New("anchor: this node holds no anchoring key")

	// ErrSignatureStale is returned when ingesting a signature whose
	// referenced tx is not the currently-proposable tx; per spec §4.5
	// it must be dropped, never persisted.
	ErrSignatureStale = errors.New("anchor: signature references a non-proposable tx")
)
