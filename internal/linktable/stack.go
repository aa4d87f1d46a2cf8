package linktable

import "github.com/vk/dfkernel/internal/cellid"

// ProducerStack is an ordered list of producers, most recent last. A cell
// appears at most once; pushing an existing producer moves it to the top.
type ProducerStack struct {
	items []cellid.ID
}

// Push makes id the most recent producer.
func (s *ProducerStack) Push(id cellid.ID) {
	s.Remove(id)
	s.items = append(s.items, id)
}

// Remove drops id wherever it is, reporting whether it was present.
func (s *ProducerStack) Remove(id cellid.ID) bool {
	for i, item := range s.items {
		if item == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// Top returns the most recent producer.
func (s *ProducerStack) Top() (cellid.ID, bool) {
	if len(s.items) == 0 {
		return "", false
	}
	return s.items[len(s.items)-1], true
}

// TopExcept returns the most recent producer that is not skip.
func (s *ProducerStack) TopExcept(skip cellid.ID) (cellid.ID, bool) {
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i] != skip {
			return s.items[i], true
		}
	}
	return "", false
}

// Len returns the number of producers.
func (s *ProducerStack) Len() int { return len(s.items) }

// Items returns a copy of the producers, oldest first.
func (s *ProducerStack) Items() []cellid.ID {
	return append([]cellid.ID(nil), s.items...)
}
