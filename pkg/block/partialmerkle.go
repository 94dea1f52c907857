package block

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// ErrMalleableTree is returned by ExtractMatches when a partial tree's
// hash list lets two distinct, genuinely-present sibling branches
// collide to the same value — the classic duplicate-transaction merkle
// malleability (spec S5): the tree must be rejected rather than trusted,
// since its root no longer uniquely determines its matched set.
var ErrMalleableTree = fmt.Errorf("block: partial merkle tree is malleable")

// PartialMerkleTree is a compact proof that a subset of transactions
// are included in a block's merkle root, without transmitting every
// transaction hash (spec P7/S4/S5).
type PartialMerkleTree struct {
	NumTransactions uint32
	Flags           []bool
	Hashes          []types.Hash
}

func calcTreeWidth(height int, numTx uint32) uint32 {
	return (numTx + (1 << uint(height)) - 1) >> uint(height)
}

func treeHeight(numTx uint32) int {
	height := 0
	for calcTreeWidth(height, numTx) > 1 {
		height++
	}
	return height
}

// BuildPartialMerkleTree builds a partial tree over txHashes, including
// only the branches needed to prove inclusion/exclusion of the
// positions flagged true in matches.
func BuildPartialMerkleTree(txHashes []types.Hash, matches []bool) *PartialMerkleTree {
	numTx := uint32(len(txHashes))
	t := &PartialMerkleTree{NumTransactions: numTx}
	if numTx == 0 {
		return t
	}
	height := treeHeight(numTx)
	t.traverseAndBuild(height, 0, txHashes, matches)
	return t
}

func (t *PartialMerkleTree) calcHash(height int, pos uint32, txHashes []types.Hash) types.Hash {
	if height == 0 {
		return txHashes[pos]
	}
	left := t.calcHash(height-1, pos*2, txHashes)
	if pos*2+1 < calcTreeWidth(height-1, t.NumTransactions) {
		right := t.calcHash(height-1, pos*2+1, txHashes)
		return crypto.HashConcat(left, right)
	}
	return crypto.HashConcat(left, left)
}

func (t *PartialMerkleTree) traverseAndBuild(height int, pos uint32, txHashes []types.Hash, matches []bool) {
	parentOfMatch := false
	from := pos << uint(height)
	to := (pos + 1) << uint(height)
	for p := from; p < to && p < t.NumTransactions; p++ {
		if matches[p] {
			parentOfMatch = true
		}
	}
	t.Flags = append(t.Flags, parentOfMatch)
	if height == 0 || !parentOfMatch {
		t.Hashes = append(t.Hashes, t.calcHash(height, pos, txHashes))
		return
	}
	t.traverseAndBuild(height-1, pos*2, txHashes, matches)
	if pos*2+1 < calcTreeWidth(height-1, t.NumTransactions) {
		t.traverseAndBuild(height-1, pos*2+1, txHashes, matches)
	}
}

// ExtractMatches reconstructs the merkle root and the set of matched
// transaction indexes (in original order) from the tree. It returns
// ErrMalleableTree rather than a root if the tree's encoding contains a
// duplicate-hash collision between two genuinely distinct branches
// (spec S5) — the classic fix for the duplicate-transaction merkle bug.
func (t *PartialMerkleTree) ExtractMatches() (root types.Hash, matchedIndexes []int, err error) {
	if t.NumTransactions == 0 {
		return types.Hash{}, nil, nil
	}
	height := treeHeight(t.NumTransactions)
	bitsUsed, hashesUsed := 0, 0
	bad := false
	root, err = t.traverseAndExtract(height, 0, &bitsUsed, &hashesUsed, &matchedIndexes, &bad)
	if err != nil {
		return types.Hash{}, nil, err
	}
	if bad {
		return types.Hash{}, nil, ErrMalleableTree
	}
	if hashesUsed != len(t.Hashes) || bitsUsed != len(t.Flags) {
		return types.Hash{}, nil, fmt.Errorf("block: partial merkle tree has unused data: %w", ErrMalleableTree)
	}
	return root, matchedIndexes, nil
}

func (t *PartialMerkleTree) traverseAndExtract(height int, pos uint32, bitsUsed, hashesUsed *int, matched *[]int, bad *bool) (types.Hash, error) {
	if *bitsUsed >= len(t.Flags) {
		return types.Hash{}, fmt.Errorf("block: partial merkle tree ran out of flag bits")
	}
	parentOfMatch := t.Flags[*bitsUsed]
	*bitsUsed++

	if height == 0 || !parentOfMatch {
		if *hashesUsed >= len(t.Hashes) {
			return types.Hash{}, fmt.Errorf("block: partial merkle tree ran out of hashes")
		}
		h := t.Hashes[*hashesUsed]
		*hashesUsed++
		if height == 0 && parentOfMatch {
			*matched = append(*matched, int(pos))
		}
		return h, nil
	}

	left, err := t.traverseAndExtract(height-1, pos*2, bitsUsed, hashesUsed, matched, bad)
	if err != nil {
		return types.Hash{}, err
	}
	var right types.Hash
	if pos*2+1 < calcTreeWidth(height-1, t.NumTransactions) {
		right, err = t.traverseAndExtract(height-1, pos*2+1, bitsUsed, hashesUsed, matched, bad)
		if err != nil {
			return types.Hash{}, err
		}
		if right == left {
			*bad = true
		}
	} else {
		right = left
	}
	return crypto.HashConcat(left, right), nil
}

// Serialize packs the tree into its wire form: tx count, a
// varint-prefixed hash list, then a byte-packed flag bit vector.
func (t *PartialMerkleTree) Serialize() []byte {
	buf := make([]byte, 0, 10+len(t.Hashes)*types.HashSize+len(t.Flags)/8+2)
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], t.NumTransactions)
	buf = append(buf, u32[:]...)
	buf = appendUvarint(buf, uint64(len(t.Hashes)))
	for _, h := range t.Hashes {
		buf = append(buf, h[:]...)
	}
	buf = appendUvarint(buf, uint64(len(t.Flags)))
	flagBytes := make([]byte, (len(t.Flags)+7)/8)
	for i, bit := range t.Flags {
		if bit {
			flagBytes[i/8] |= 1 << uint(i%8)
		}
	}
	buf = append(buf, flagBytes...)
	return buf
}

// DeserializePartialMerkleTree is the inverse of Serialize.
func DeserializePartialMerkleTree(data []byte) (*PartialMerkleTree, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("block: partial merkle tree data too short")
	}
	t := &PartialMerkleTree{NumTransactions: binary.LittleEndian.Uint32(data[:4])}
	rest := data[4:]

	numHashes, n, err := readUvarint(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	if uint64(len(rest)) < numHashes*uint64(types.HashSize) {
		return nil, fmt.Errorf("block: partial merkle tree truncated hash list")
	}
	t.Hashes = make([]types.Hash, numHashes)
	for i := range t.Hashes {
		copy(t.Hashes[i][:], rest[:types.HashSize])
		rest = rest[types.HashSize:]
	}

	numFlags, n, err := readUvarint(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	needed := (numFlags + 7) / 8
	if uint64(len(rest)) < needed {
		return nil, fmt.Errorf("block: partial merkle tree truncated flag bits")
	}
	t.Flags = make([]bool, numFlags)
	for i := range t.Flags {
		t.Flags[i] = rest[i/8]&(1<<uint(i%8)) != 0
	}
	return t, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readUvarint(data []byte) (uint64, int, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, 0, fmt.Errorf("block: malformed varint in partial merkle tree")
	}
	return v, n, nil
}
