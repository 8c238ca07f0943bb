package settings

import "sync"

// Change describes one applied setting mutation. Path is relative to the
// owning manager's subtree.
type Change struct {
	Manager string
	Path    string
	Old     Value
	New     Value
	Source  string
}

// Observer is called after a change has been merged and persisted.
type Observer func(Change)

// Subscription is an active observer registration.
type Subscription struct {
	id       uint64
	notifier *Notifier
}

// Unsubscribe removes this subscription.
func (s *Subscription) Unsubscribe() {
	if s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

// Notifier routes setting changes to observers. Delivery is synchronous:
// Notify returns only after every matching observer has run, so a change is
// fully propagated before the next settings operation begins.
type Notifier struct {
	mu sync.Mutex

	global  map[uint64]Observer
	byOwner map[string]map[uint64]Observer
	nextID  uint64
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		global:  make(map[uint64]Observer),
		byOwner: make(map[string]map[uint64]Observer),
	}
}

// Subscribe registers an observer for changes to any manager's subtree.
func (n *Notifier) Subscribe(obs Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.global[id] = obs
	return &Subscription{id: id, notifier: n}
}

// SubscribeManager registers an observer for changes inside one manager's
// subtree only.
func (n *Notifier) SubscribeManager(manager string, obs Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	if n.byOwner[manager] == nil {
		n.byOwner[manager] = make(map[uint64]Observer)
	}
	n.byOwner[manager][id] = obs
	return &Subscription{id: id, notifier: n}
}

// Notify delivers a change to all matching observers.
func (n *Notifier) Notify(change Change) {
	n.mu.Lock()
	observers := make([]Observer, 0, len(n.global))
	for _, obs := range n.global {
		observers = append(observers, obs)
	}
	for _, obs := range n.byOwner[change.Manager] {
		observers = append(observers, obs)
	}
	n.mu.Unlock()

	for _, obs := range observers {
		obs(change)
	}
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.global, id)
	for owner, observers := range n.byOwner {
		delete(observers, id)
		if len(observers) == 0 {
			delete(n.byOwner, owner)
		}
	}
}
