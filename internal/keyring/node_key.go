package keyring

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/cuemby/bastion/internal/apperr"
)

// DeriveNodeKey derives a per-agent symmetric key from the active master
// key so the Hub never has to transmit its own key material to an agent:
// the agent independently derives the same key from a copy of this value
// shared once at enrollment time.
func (k *Keyring) DeriveNodeKey(agentID string) ([]byte, error) {
	key, ok := k.keys[k.active]
	if !ok {
		return nil, apperr.New(apperr.KindInternal, "no active keyring key")
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("bastion-node-key:" + agentID))
	return mac.Sum(nil), nil
}
