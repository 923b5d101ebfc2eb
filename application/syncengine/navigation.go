package syncengine

import "communitysync/domain/core/valueobjects"

// navigation tracks the library note being viewed and the notes GoBack
// returns to. A nil current means the root listing.
type navigation struct {
	current *valueobjects.EntityID
	stack   []valueobjects.EntityID
}

func (n *navigation) currentID() *valueobjects.EntityID {
	if n.current == nil {
		return nil
	}
	id := *n.current
	return &id
}

// open makes id current, remembering the note it replaces
func (n *navigation) open(id valueobjects.EntityID) {
	if n.current != nil {
		if *n.current == id {
			return
		}
		n.stack = append(n.stack, *n.current)
	}
	n.current = &id
}

// back pops the previous note. With an empty stack the view returns to
// the root listing and ok is false.
func (n *navigation) back() (prev valueobjects.EntityID, ok bool) {
	if len(n.stack) == 0 {
		n.current = nil
		return 0, false
	}
	prev = n.stack[len(n.stack)-1]
	n.stack = n.stack[:len(n.stack)-1]
	n.current = &prev
	return prev, true
}

// leave forgets a deleted note. When it was current the view moves to
// parent and true is returned.
func (n *navigation) leave(id valueobjects.EntityID, parent *valueobjects.EntityID) bool {
	kept := n.stack[:0]
	for _, s := range n.stack {
		if s != id {
			kept = append(kept, s)
		}
	}
	n.stack = kept

	if n.current == nil || *n.current != id {
		return false
	}
	n.current = nil
	if parent != nil {
		p := *parent
		n.current = &p
		if last := len(n.stack) - 1; last >= 0 && n.stack[last] == p {
			n.stack = n.stack[:last]
		}
	}
	return true
}
