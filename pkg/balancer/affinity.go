package balancer

import (
	"fmt"
	"hash/crc32"
	"sort"
)

const ringReplicas = 100

// ring maps route keys to endpoint identifiers with consistent
// hashing, so a conversation keeps landing on the same endpoint as
// long as that endpoint stays in the pool. Each endpoint is placed on
// the ring as 100 virtual nodes for even key distribution.
//
// The ring is immutable once built; the selector rebuilds it when the
// pool membership changes.
type ring struct {
	hashes []uint32
	owners map[uint32]string
}

// newRing builds a ring over the given endpoint identifiers.
func newRing(ids []string) *ring {
	r := &ring{
		hashes: make([]uint32, 0, len(ids)*ringReplicas),
		owners: make(map[uint32]string, len(ids)*ringReplicas),
	}
	for _, id := range ids {
		for i := 0; i < ringReplicas; i++ {
			h := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", id, i)))
			r.hashes = append(r.hashes, h)
			r.owners[h] = id
		}
	}
	sort.Slice(r.hashes, func(i, j int) bool { return r.hashes[i] < r.hashes[j] })
	return r
}

// owner returns the endpoint identifier responsible for the key: the
// first node clockwise from the key's hash, wrapping around at the end
// of the ring. Returns "" for an empty ring.
func (r *ring) owner(key string) string {
	if len(r.hashes) == 0 {
		return ""
	}
	h := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(r.hashes), func(i int) bool {
		return r.hashes[i] >= h
	})
	if idx == len(r.hashes) {
		idx = 0
	}
	return r.owners[r.hashes[idx]]
}
