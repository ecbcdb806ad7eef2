package hostchain

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
)

// Envelope wraps a ServiceMessage with the host-framework signature that
// authenticates it, by the sender's service key (distinct from its
// Bitcoin signing key, per spec §4.2).
type Envelope struct {
	Type      string `json:"type"`
	Payload   []byte `json:"payload"` // JSON-encoded ServiceMessage
	PubKey    []byte `json:"pubkey"`  // 32-byte Ed25519 public key
	Signature []byte `json:"signature"`
}

// ServiceSigner holds a validator's Ed25519 service key and produces
// signed envelopes. It never logs the private key: Sign is the only
// method that touches it, and the struct itself has no String method
// exposing key bytes.
type ServiceSigner struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewServiceSigner wraps an existing Ed25519 private key.
func NewServiceSigner(priv ed25519.PrivateKey) *ServiceSigner {
	return &ServiceSigner{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// PublicKey returns the signer's 32-byte Ed25519 public key.
func (s *ServiceSigner) PublicKey() ed25519.PublicKey {
	return s.pub
}

// Sign wraps msg in a signed Envelope.
func (s *ServiceSigner) Sign(msg ServiceMessage) (*Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("hostchain: marshal service message: %w", err)
	}
	signed := append([]byte(msg.MessageType()+":"), payload...)
	sig := ed25519.Sign(s.priv, signed)
	return &Envelope{
		Type:      msg.MessageType(),
		Payload:   payload,
		PubKey:    append([]byte(nil), s.pub...),
		Signature: sig,
	}, nil
}

// VerifyEnvelope checks env's signature and decodes its payload into a
// ServiceMessage of the type env declares.
func VerifyEnvelope(env *Envelope) (ServiceMessage, error) {
	if len(env.PubKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("hostchain: envelope pubkey has wrong length %d", len(env.PubKey))
	}
	signed := append([]byte(env.Type+":"), env.Payload...)
	if !ed25519.Verify(ed25519.PublicKey(env.PubKey), signed, env.Signature) {
		return nil, fmt.Errorf("hostchain: envelope signature does not verify")
	}

	switch env.Type {
	case (MsgAnchoringSignature{}).MessageType():
		var msg MsgAnchoringSignature
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("hostchain: decode MsgAnchoringSignature: %w", err)
		}
		return msg, nil
	case (MsgAnchoringUpdateLatest{}).MessageType():
		var msg MsgAnchoringUpdateLatest
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("hostchain: decode MsgAnchoringUpdateLatest: %w", err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("hostchain: unknown envelope type %q", env.Type)
	}
}
