package proof

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"tlsn-notary/shared"
)

// HashSize is the size of commitment and Merkle node hashes.
const HashSize = sha256.Size

// Domain separation prefixes.
const (
	commitmentPrefix = 0x00
	nodePrefix       = 0x01
)

// CommitmentHash binds a transcript range and its bytes under a blinder.
func CommitmentHash(direction shared.Direction, r shared.Range, blinder, data []byte) []byte {
	h := sha256.New()
	var hdr [1 + 1 + 8 + 8]byte
	hdr[0] = commitmentPrefix
	hdr[1] = byte(direction)
	binary.BigEndian.PutUint64(hdr[2:10], uint64(r.Start))
	binary.BigEndian.PutUint64(hdr[10:18], uint64(r.End))
	h.Write(hdr[:])
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(blinder)))
	h.Write(n[:])
	h.Write(blinder)
	h.Write(data)
	return h.Sum(nil)
}

func hashNodes(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// MerkleTree is built from an ordered list of leaf hashes.
type MerkleTree struct {
	// Layers[0] = leaves, Layers[last] = [root].
	Layers [][][]byte
}

// BuildMerkleTree constructs a Merkle tree from leaf hashes. When a layer
// has an odd number of nodes the last one is paired with itself.
func BuildMerkleTree(leaves [][]byte) *MerkleTree {
	if len(leaves) == 0 {
		return &MerkleTree{Layers: [][][]byte{{}}}
	}

	current := append([][]byte(nil), leaves...)
	layers := [][][]byte{current}

	for len(current) > 1 {
		next := make([][]byte, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 < len(current) {
				next = append(next, hashNodes(current[i], current[i+1]))
			} else {
				next = append(next, hashNodes(current[i], current[i]))
			}
		}
		layers = append(layers, next)
		current = next
	}

	return &MerkleTree{Layers: layers}
}

// Root returns the tree root, or a zero hash for an empty tree.
func (t *MerkleTree) Root() []byte {
	top := t.Layers[len(t.Layers)-1]
	if len(top) == 0 {
		return make([]byte, HashSize)
	}
	return top[0]
}

// InclusionPath returns the sibling path for the leaf at index.
func (t *MerkleTree) InclusionPath(index int) ([]ProofNode, error) {
	leaves := t.Layers[0]
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("index out of bounds: %d >= %d", index, len(leaves))
	}

	var path []ProofNode
	current := index
	for _, layer := range t.Layers[:len(t.Layers)-1] {
		sibling := current ^ 1
		var hash []byte
		if sibling < len(layer) {
			hash = layer[sibling]
		} else {
			// Odd layer: paired with itself
			hash = layer[current]
		}
		path = append(path, ProofNode{Hash: HexBytes(hash), Left: current%2 == 1})
		current /= 2
	}
	return path, nil
}

// VerifyInclusion recomputes the root from a leaf and its sibling path.
func VerifyInclusion(leaf []byte, path []ProofNode, root []byte) bool {
	current := leaf
	for _, node := range path {
		if node.Left {
			current = hashNodes(node.Hash, current)
		} else {
			current = hashNodes(current, node.Hash)
		}
	}
	return bytes.Equal(current, root)
}
