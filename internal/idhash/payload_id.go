// Package idhash derives deterministic ids for persisted signed payloads.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// idLen is the number of hex characters kept from the hash.
const idLen = 32

// ComputeVoteID computes the persist id of a vote.
// Formula: SHA256(chain|program|multisig|index|action|member)
// Repeating the same vote yields the same id.
func ComputeVoteID(
	chainID string,
	program string,
	multisig string,
	index uint64,
	action string,
	member string,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%s|%s",
		chainID,
		program,
		multisig,
		index,
		action,
		member,
	)
	return action + "-" + digest(data)
}

// ComputeSubmitID computes the persist id of a pre-signed transaction.
// Formula: SHA256(chain|signature)
func ComputeSubmitID(chainID string, signature string) string {
	return "submit-" + digest(chainID+"|"+signature)
}

func digest(data string) string {
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])[:idLen]
}
