package anchorsig

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
)

// KeyStore holds the in-process Bitcoin private keys a validator signs
// anchoring inputs with. Keys never leave the process and are never
// logged: String deliberately does not print key material.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]*btcec.PrivateKey
}

// NewKeyStore returns an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]*btcec.PrivateKey)}
}

// Add registers a private key under its compressed public key.
func (ks *KeyStore) Add(priv *btcec.PrivateKey) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	pub := priv.PubKey().SerializeCompressed()
	ks.keys[hex.EncodeToString(pub)] = priv
}

// Has reports whether the store holds the private key for pubkey.
func (ks *KeyStore) Has(pubkey []byte) bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	_, ok := ks.keys[hex.EncodeToString(pubkey)]
	return ok
}

// private looks up the private key for a compressed pubkey.
func (ks *KeyStore) private(pubkey []byte) (*btcec.PrivateKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	priv, ok := ks.keys[hex.EncodeToString(pubkey)]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownKey, pubkey)
	}
	return priv, nil
}

// String implements fmt.Stringer so an accidental %v/%s of a *KeyStore
// never leaks key material into logs.
func (ks *KeyStore) String() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return fmt.Sprintf("KeyStore{%d keys}", len(ks.keys))
}
