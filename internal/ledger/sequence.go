package ledger

// Sequence allocates auction ids. Ids start at the given value, grow by one
// and are never reused. It is owned by the registry and guarded by its lock.
type Sequence struct {
	next uint64
}

func NewSequence(start uint64) *Sequence {
	if start == 0 {
		start = 1
	}
	return &Sequence{next: start}
}

// Peek returns the id the next successful create will receive.
func (s *Sequence) Peek() uint64 {
	return s.next
}

// Advance consumes the id returned by Peek.
func (s *Sequence) Advance() uint64 {
	id := s.next
	s.next++
	return id
}

// Observe moves the sequence past an id that was allocated earlier.
func (s *Sequence) Observe(id uint64) {
	if id >= s.next {
		s.next = id + 1
	}
}
