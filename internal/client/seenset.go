package client

import "frameworks/customs/internal/host"

// objectKey is the (facility, object-index) pair the seen-set tracks.
type objectKey struct {
	facility host.Facility
	index    uint32
}

// SeenSet is the C4 ordered collection of (facility, object-index) pairs a
// client has been told are visible. spec.md §9 explicitly prefers a hash
// set over the original's doubly-linked list as semantically identical;
// this is that hash set.
type SeenSet struct {
	members map[objectKey]struct{}
}

// NewSeenSet returns an empty seen-set.
func NewSeenSet() *SeenSet {
	return &SeenSet{members: make(map[objectKey]struct{})}
}

// Contains reports whether (f, idx) is currently visible to the client.
func (s *SeenSet) Contains(f host.Facility, idx uint32) bool {
	_, ok := s.members[objectKey{f, idx}]
	return ok
}

// Insert marks (f, idx) visible.
func (s *SeenSet) Insert(f host.Facility, idx uint32) {
	s.members[objectKey{f, idx}] = struct{}{}
}

// Remove marks (f, idx) no longer visible. No-op if it was not present.
func (s *SeenSet) Remove(f host.Facility, idx uint32) {
	delete(s.members, objectKey{f, idx})
}

// Len returns the number of visible pairs, exposed for diagnostics and tests.
func (s *SeenSet) Len() int {
	return len(s.members)
}
