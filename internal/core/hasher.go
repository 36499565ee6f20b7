package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const genesisSeed = "RebalancePool:genesis:v1"

// GenesisHash is the chain tip before the first command.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(genesisSeed))
}

// HashChain links every applied command to the one before it:
//
//	tip[N] = SHA-256(tip[N-1] || be64(N) || digest[N])
//
// Two engines that applied the same commands from the same start agree on the tip.
type HashChain struct {
	tip [32]byte
}

func NewHashChain() *HashChain {
	return &HashChain{tip: GenesisHash()}
}

// Append folds the digest of command seq into the chain and returns the new tip.
func (h *HashChain) Append(seq int64, digest []byte) [32]byte {
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], uint64(seq))

	d := sha256.New()
	d.Write(h.tip[:])
	d.Write(seqBuf[:])
	d.Write(digest)
	d.Sum(h.tip[:0])
	return h.tip
}

func (h *HashChain) Tip() [32]byte { return h.tip }

// Reset moves the tip, used when restoring from a snapshot.
func (h *HashChain) Reset(tip [32]byte) { h.tip = tip }
