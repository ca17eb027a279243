package robot

// Subscription identifies a registered observer.
type Subscription uint64

type observer struct {
	id Subscription
	fn func()
}

// Subject keeps an ordered list of observers and calls them synchronously.
// It is not safe for concurrent use.
type Subject struct {
	next      Subscription
	observers []observer
}

// Subscribe registers fn and returns a handle for Unsubscribe.
func (s *Subject) Subscribe(fn func()) Subscription {
	s.next++
	s.observers = append(s.observers, observer{id: s.next, fn: fn})
	return s.next
}

// Unsubscribe removes the observer registered under sub. It reports
// whether the subscription was found.
func (s *Subject) Unsubscribe(sub Subscription) bool {
	for i, o := range s.observers {
		if o.id == sub {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return true
		}
	}
	return false
}

// Notify calls every observer in subscription order.
func (s *Subject) Notify() {
	// Copy so observers may unsubscribe while being notified.
	obs := make([]observer, len(s.observers))
	copy(obs, s.observers)
	for _, o := range obs {
		o.fn()
	}
}
