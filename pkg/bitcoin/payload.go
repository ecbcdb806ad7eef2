package bitcoin

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// payloadVersion is the single version byte carried by both OP_RETURN
// payload layouts. There is exactly one version today; a future format
// change would bump this and branch Decode on it.
const payloadVersion = 1

const (
	anchorPayloadLen    = 40 // len(block_height) + len(block_hash)
	prevChainPayloadLen = 32 // len(prev_tx_chain txid)
)

// Payload is the decoded form of an anchoring tx's OP_RETURN outputs:
// output 1 carries (block_height, block_hash); output 2, present only on
// recovery anchors, carries prev_tx_chain.
type Payload struct {
	BlockHeight uint64
	BlockHash   chainhash.Hash
	PrevTxChain *chainhash.Hash
}

// EncodeAnchorScript builds output 1's scriptPubKey: OP_RETURN pushing the
// 42-byte payload `[version=1][len=40][block_height LE u64][block_hash 32]`.
func EncodeAnchorScript(height uint64, hash chainhash.Hash) ([]byte, error) {
	buf := make([]byte, 2+8+32)
	buf[0] = payloadVersion
	buf[1] = anchorPayloadLen
	binary.LittleEndian.PutUint64(buf[2:10], height)
	copy(buf[10:42], hash[:])
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData(buf).
		Script()
}

// EncodePrevChainScript builds output 2's scriptPubKey (recovery anchors
// only): OP_RETURN pushing the 34-byte payload
// `[version=1][len=32][prev_tx_chain txid 32]`.
func EncodePrevChainScript(prevTxChain chainhash.Hash) ([]byte, error) {
	buf := make([]byte, 2+32)
	buf[0] = payloadVersion
	buf[1] = prevChainPayloadLen
	copy(buf[2:34], prevTxChain[:])
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData(buf).
		Script()
}

// DecodeAnchorScript parses output 1's scriptPubKey, returning the
// (block_height, block_hash) pair. It returns an error for anything that
// is not a well-formed OP_RETURN push of the 42-byte anchor payload.
func DecodeAnchorScript(pkScript []byte) (uint64, chainhash.Hash, error) {
	data, err := extractOpReturnData(pkScript)
	if err != nil {
		return 0, chainhash.Hash{}, err
	}
	if len(data) != 2+8+32 {
		return 0, chainhash.Hash{}, fmt.Errorf("bitcoin: anchor payload wrong length %d", len(data))
	}
	if data[0] != payloadVersion {
		return 0, chainhash.Hash{}, fmt.Errorf("bitcoin: anchor payload unknown version %d", data[0])
	}
	if data[1] != anchorPayloadLen {
		return 0, chainhash.Hash{}, fmt.Errorf("bitcoin: anchor payload unexpected len field %d", data[1])
	}
	height := binary.LittleEndian.Uint64(data[2:10])
	var hash chainhash.Hash
	copy(hash[:], data[10:42])
	return height, hash, nil
}

// DecodePrevChainScript parses output 2's scriptPubKey, returning the
// prev_tx_chain txid.
func DecodePrevChainScript(pkScript []byte) (chainhash.Hash, error) {
	data, err := extractOpReturnData(pkScript)
	if err != nil {
		return chainhash.Hash{}, err
	}
	if len(data) != 2+32 {
		return chainhash.Hash{}, fmt.Errorf("bitcoin: prev-chain payload wrong length %d", len(data))
	}
	if data[0] != payloadVersion {
		return chainhash.Hash{}, fmt.Errorf("bitcoin: prev-chain payload unknown version %d", data[0])
	}
	if data[1] != prevChainPayloadLen {
		return chainhash.Hash{}, fmt.Errorf("bitcoin: prev-chain payload unexpected len field %d", data[1])
	}
	var hash chainhash.Hash
	copy(hash[:], data[2:34])
	return hash, nil
}

// extractOpReturnData tokenizes pkScript and returns the bytes of its
// single data push, failing on anything else (not OP_RETURN, more than
// one push, non-canonical push encoding).
func extractOpReturnData(pkScript []byte) ([]byte, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, pkScript)
	if !tokenizer.Next() {
		return nil, fmt.Errorf("bitcoin: empty script")
	}
	if tokenizer.Opcode() != txscript.OP_RETURN {
		return nil, fmt.Errorf("bitcoin: not an OP_RETURN script")
	}
	if !tokenizer.Next() {
		return nil, fmt.Errorf("bitcoin: OP_RETURN script carries no data push")
	}
	data := tokenizer.Data()
	if tokenizer.Next() {
		return nil, fmt.Errorf("bitcoin: OP_RETURN script carries more than one push")
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("bitcoin: tokenize script: %w", err)
	}
	return data, nil
}
