package position

// Store is the ordered in-memory set of open positions. It is not safe for concurrent use;
// the engine loop is its only caller.
type Store struct {
	items []*Position
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) add(p Position) {
	cp := p
	s.items = append(s.items, &cp)
}

func (s *Store) get(id string) *Position {
	for _, p := range s.items {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Store) remove(id string) bool {
	for i, p := range s.items {
		if p.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the position with the given id.
func (s *Store) Get(id string) (Position, bool) {
	if p := s.get(id); p != nil {
		return *p, true
	}
	return Position{}, false
}

// Len reports how many positions are held.
func (s *Store) Len() int { return len(s.items) }

// List copies every position in admission order.
func (s *Store) List() []Position {
	out := make([]Position, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, *p)
	}
	return out
}
