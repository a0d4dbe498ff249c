package poller

// seenSet is an insertion-ordered set of message ids. It is owned by the
// poll loop and is not safe for concurrent use.
type seenSet struct {
	order []string
	index map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{index: make(map[string]struct{})}
}

func (s *seenSet) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Add reports whether id was newly added.
func (s *seenSet) Add(id string) bool {
	if s.Has(id) {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *seenSet) Remove(id string) {
	if !s.Has(id) {
		return
	}
	delete(s.index, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *seenSet) Len() int {
	return len(s.order)
}

// Prune keeps the keep most recently added ids.
func (s *seenSet) Prune(keep int) int {
	if keep < 0 {
		keep = 0
	}
	drop := len(s.order) - keep
	if drop <= 0 {
		return 0
	}
	for _, id := range s.order[:drop] {
		delete(s.index, id)
	}
	s.order = append([]string(nil), s.order[drop:]...)
	return drop
}
