package chat

// seenSet remembers the most recent server ids. Once full, the oldest id is
// forgotten first.
type seenSet struct {
	ids  map[int64]struct{}
	ring []int64
	next int
	full bool
}

func newSeenSet(size int) *seenSet {
	if size < 1 {
		size = 1
	}
	return &seenSet{
		ids:  make(map[int64]struct{}, size),
		ring: make([]int64, size),
	}
}

// Add records id and reports whether it was new.
func (s *seenSet) Add(id int64) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if s.full {
		delete(s.ids, s.ring[s.next])
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next++
	if s.next == len(s.ring) {
		s.next = 0
		s.full = true
	}
	return true
}
