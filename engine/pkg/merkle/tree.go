package merkle

import "errors"

// ErrMalformedHash is returned when a base58 hash does not decode to
// HashSize bytes.
var ErrMalformedHash = errors.New("malformed hash")

// ErrNoLeaves is returned when building a tree over an empty leaf set.
var ErrNoLeaves = errors.New("tree requires at least one leaf")

// Tree is a sorted-pair Merkle tree over a fixed leaf set. It exists for
// organizer-side commitment construction and for tests; verification only
// needs Fold.
type Tree struct {
	levels [][]Hash
}

// NewTree builds a tree over the given leaves, in display-position order.
// Odd nodes at any level are promoted unchanged to the next level.
func NewTree(leaves []Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}
	levels := [][]Hash{append([]Hash(nil), leaves...)}
	for len(levels[len(levels)-1]) > 1 {
		prev := levels[len(levels)-1]
		next := make([]Hash, 0, (len(prev)+1)/2)
		for i := 0; i < len(prev); i += 2 {
			if i+1 < len(prev) {
				next = append(next, hashPair(prev[i], prev[i+1]))
			} else {
				next = append(next, prev[i])
			}
		}
		levels = append(levels, next)
	}
	return &Tree{levels: levels}, nil
}

// Root returns the committed root of the tree.
func (t *Tree) Root() Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Proof returns the inclusion proof for the leaf at the given index.
func (t *Tree) Proof(index int) ([]Hash, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, errors.New("leaf index out of range")
	}
	var proof []Hash
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		index /= 2
	}
	return proof, nil
}
