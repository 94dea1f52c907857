package block

import (
	"math"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func txHash(b byte) types.Hash {
	return crypto.Hash([]byte{b})
}

func makeTxHashes(n int) []types.Hash {
	hashes := make([]types.Hash, n)
	for i := range hashes {
		hashes[i] = txHash(byte(i))
	}
	return hashes
}

func TestPartialMerkleTree_RoundTripMatchesSubsetInOrder(t *testing.T) {
	hashes := makeTxHashes(7)
	matches := make([]bool, 7)
	matches[1] = true
	matches[5] = true
	matches[6] = true

	tree := BuildPartialMerkleTree(hashes, matches)
	data := tree.Serialize()

	got, err := DeserializePartialMerkleTree(data)
	if err != nil {
		t.Fatalf("DeserializePartialMerkleTree() error: %v", err)
	}
	root, matchedIdx, err := got.ExtractMatches()
	if err != nil {
		t.Fatalf("ExtractMatches() error: %v", err)
	}

	wantRoot := ComputeMerkleRoot(hashes)
	if root != wantRoot {
		t.Errorf("root = %x, want %x", root, wantRoot)
	}
	wantIdx := []int{1, 5, 6}
	if len(matchedIdx) != len(wantIdx) {
		t.Fatalf("matchedIdx = %v, want %v", matchedIdx, wantIdx)
	}
	for i, v := range wantIdx {
		if matchedIdx[i] != v {
			t.Errorf("matchedIdx[%d] = %d, want %d", i, matchedIdx[i], v)
		}
	}
}

func TestPartialMerkleTree_BitFlipChangesRoot(t *testing.T) {
	hashes := makeTxHashes(17)
	matches := make([]bool, 17)
	matches[3] = true

	tree := BuildPartialMerkleTree(hashes, matches)
	data := tree.Serialize()

	flipped := make([]byte, len(data))
	copy(flipped, data)
	// Flip a bit inside the first serialized hash (after the 4-byte
	// count and the hash-count varint).
	flipped[10] ^= 0x01

	orig, err := DeserializePartialMerkleTree(data)
	if err != nil {
		t.Fatalf("Deserialize(orig) error: %v", err)
	}
	origRoot, _, err := orig.ExtractMatches()
	if err != nil {
		t.Fatalf("ExtractMatches(orig) error: %v", err)
	}

	flippedTree, err := DeserializePartialMerkleTree(flipped)
	if err != nil {
		t.Fatalf("Deserialize(flipped) error: %v", err)
	}
	flippedRoot, _, err := flippedTree.ExtractMatches()
	if err == nil && flippedRoot == origRoot {
		t.Error("a single-bit flip in a serialized hash should change the reconstructed root")
	}
}

func TestPartialMerkleTree_RoundTripForVariousSizes(t *testing.T) {
	sizes := []int{1, 4, 7, 17, 56, 100, 127, 256, 312, 513, 1000}
	for _, n := range sizes {
		hashes := makeTxHashes(n)
		matches := make([]bool, n)
		matches[0] = true
		if n > 3 {
			matches[n/2] = true
			matches[n-1] = true
		}

		tree := BuildPartialMerkleTree(hashes, matches)
		data := tree.Serialize()

		got, err := DeserializePartialMerkleTree(data)
		if err != nil {
			t.Fatalf("n=%d: Deserialize() error: %v", n, err)
		}
		root, _, err := got.ExtractMatches()
		if err != nil {
			t.Fatalf("n=%d: ExtractMatches() error: %v", n, err)
		}
		if root != ComputeMerkleRoot(hashes) {
			t.Errorf("n=%d: root mismatch", n)
		}

		matchedCount := 0
		for _, m := range matches {
			if m {
				matchedCount++
			}
		}
		height := int(math.Ceil(math.Log2(float64(n))))
		if height < 1 {
			height = 1
		}
		bound := 10 + (258*min(n, 1+matchedCount*height)+7)/8
		if len(data) > bound {
			t.Errorf("n=%d: serialized size %d exceeds bound %d", n, len(data), bound)
		}
	}
}

func TestPartialMerkleTree_DuplicateLeafMalleabilityRejected(t *testing.T) {
	hashes := makeTxHashes(12)
	// Positions 8 and 10 equal positions 9 and 11 respectively.
	hashes[8] = hashes[9]
	hashes[10] = hashes[11]

	// A tree matching only positions 9 and 10: each pairs at the leaf
	// level with an unrevealed sibling (8 and 11) that happens to carry
	// the identical hash, so the reconstructed subtree hash for each
	// pair collides between the revealed and unrevealed branch.
	matches := make([]bool, 12)
	matches[9] = true
	matches[10] = true
	tree := BuildPartialMerkleTree(hashes, matches)

	if _, _, err := tree.ExtractMatches(); err == nil {
		t.Fatal("expected malleable duplicate-leaf tree to be rejected")
	}
}

func TestPartialMerkleTree_NonDuplicateTreeExtractsCleanly(t *testing.T) {
	hashes := makeTxHashes(12)
	matches := make([]bool, 12)
	matches[9] = true
	matches[10] = true

	tree := BuildPartialMerkleTree(hashes, matches)
	root, matchedIdx, err := tree.ExtractMatches()
	if err != nil {
		t.Fatalf("ExtractMatches() error: %v", err)
	}
	if root != ComputeMerkleRoot(hashes) {
		t.Error("root mismatch on a non-colliding tree")
	}
	if len(matchedIdx) != 2 || matchedIdx[0] != 9 || matchedIdx[1] != 10 {
		t.Errorf("matchedIdx = %v, want [9 10]", matchedIdx)
	}
}
