package relay

import "errors"

var (
	// ErrAlreadyInChain is the normalized error SendTx returns when
	// Bitcoin Core reports the transaction is already confirmed or
	// already sits in the mempool; callers must treat this as success,
	// not retry.
	ErrAlreadyInChain = errors.New("relay: transaction already in chain or mempool")

	// ErrMempoolConflict is the normalized error SendTx returns on a
	// double-spend conflict; callers must not retry blindly.
	ErrMempoolConflict = errors.New("relay: conflicts with a transaction already in the mempool")
)

// RPCError is a Bitcoin Core JSON-RPC error response, carrying the
// node's numeric error code alongside the message.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}
