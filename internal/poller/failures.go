package poller

const defaultFailureSetMax = 10000

// failureSet remembers which tenant+user pairs were already told about a
// token failure. Insertion order decides eviction.
type failureSet struct {
	max   int
	keys  map[string]struct{}
	order []string
}

func newFailureSet(max int) *failureSet {
	s := &failureSet{keys: make(map[string]struct{})}
	s.setMax(max)
	return s
}

func (s *failureSet) setMax(max int) {
	if max <= 0 {
		max = defaultFailureSetMax
	}
	s.max = max
	s.evict()
}

// add reports whether key was newly added.
func (s *failureSet) add(key string) bool {
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	s.evict()
	return true
}

func (s *failureSet) remove(key string) {
	if _, ok := s.keys[key]; !ok {
		return
	}
	delete(s.keys, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *failureSet) len() int { return len(s.keys) }

func (s *failureSet) evict() {
	for len(s.order) > s.max {
		delete(s.keys, s.order[0])
		s.order = s.order[1:]
	}
}
