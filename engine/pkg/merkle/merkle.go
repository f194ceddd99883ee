// Package merkle implements the answer-set commitment scheme: SHA-256 leaves
// over (position, answer, question) and sorted-pair Merkle proofs.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/mr-tron/base58"
)

// HashSize is the size in bytes of a leaf, node, or root hash.
const HashSize = sha256.Size

// Hash is a node in the commitment tree.
type Hash [HashSize]byte

// IsZero reports whether the hash is all zeroes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the base58 encoding of the hash.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// ParseHash decodes a base58-encoded hash. Anything that does not decode to
// exactly HashSize bytes is rejected.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := base58.Decode(s)
	if err != nil {
		return h, err
	}
	if len(raw) != HashSize {
		return h, ErrMalformedHash
	}
	copy(h[:], raw)
	return h, nil
}

// Leaf computes the leaf hash for one question slot:
// H(bigendian(position) || answer || questionID).
func Leaf(position uint32, answer string, questionID string) Hash {
	var pos [4]byte
	binary.BigEndian.PutUint32(pos[:], position)
	d := sha256.New()
	d.Write(pos[:])
	d.Write([]byte(answer))
	d.Write([]byte(questionID))
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}

// hashPair hashes two nodes with the byte-order tie-break: the
// lexicographically smaller node is hashed first, regardless of which side of
// the tree it came from. Root equality depends on reproducing this exactly.
func hashPair(a, b Hash) Hash {
	d := sha256.New()
	if bytes.Compare(a[:], b[:]) <= 0 {
		d.Write(a[:])
		d.Write(b[:])
	} else {
		d.Write(b[:])
		d.Write(a[:])
	}
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}

// Fold folds a leaf upward through its proof path and returns the resulting
// root. An empty proof returns the leaf itself (single-leaf tree).
func Fold(leaf Hash, proof []Hash) Hash {
	node := leaf
	for _, sibling := range proof {
		node = hashPair(node, sibling)
	}
	return node
}

// Answer is one submitted answer with its inclusion proof.
type Answer struct {
	Position   uint32
	Answer     string
	QuestionID string
	Proof      []Hash
}

// Verify reports whether a submitted answer is correct: its recomputed leaf
// must equal the expected correct leaf for that position, and the leaf must
// fold through its proof to the committed root. Root membership alone is not
// enough; it only proves the answer was one of the committed ones.
func Verify(a Answer, root Hash, correctLeaf Hash) bool {
	if root.IsZero() || correctLeaf.IsZero() {
		return false
	}
	leaf := Leaf(a.Position, a.Answer, a.QuestionID)
	if leaf != correctLeaf {
		return false
	}
	return Fold(leaf, a.Proof) == root
}

// Score counts the submitted answers that verify against the committed root
// and the per-position correct leaves. Positions outside the correct-leaf set
// and repeated positions never count; malformed input scores zero for the
// offending item rather than failing the whole submission.
func Score(answers []Answer, root Hash, correctLeaves []Hash) int {
	score := 0
	seen := make(map[uint32]bool, len(answers))
	for _, a := range answers {
		if int(a.Position) >= len(correctLeaves) {
			continue
		}
		if seen[a.Position] {
			continue
		}
		if Verify(a, root, correctLeaves[a.Position]) {
			seen[a.Position] = true
			score++
		}
	}
	return score
}
