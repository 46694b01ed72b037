package broadcast

import "time"

// registry tracks live subscriptions per topic. Like history, it is a plain
// struct serialized by the owning Broadcaster's mutex; that shared exclusive
// section is what guarantees a connection is never concurrently removed and
// delivered to.
type registry struct {
	limit  int
	topics map[string]map[string]*Subscription
}

func newRegistry(limit int) *registry {
	return &registry{
		limit:  limit,
		topics: make(map[string]map[string]*Subscription),
	}
}

// get returns the subscription for (topic, clientID), or nil.
func (r *registry) get(topic, clientID string) *Subscription {
	if conns, ok := r.topics[topic]; ok {
		return conns[clientID]
	}
	return nil
}

// add registers a subscription. It returns ErrCapacityExceeded when the
// topic is full; the caller translates that into a rejection, not a panic.
func (r *registry) add(sub *Subscription) error {
	conns, ok := r.topics[sub.topic]
	if !ok {
		conns = make(map[string]*Subscription)
		r.topics[sub.topic] = conns
	}
	if _, exists := conns[sub.clientID]; !exists && len(conns) >= r.limit {
		return ErrCapacityExceeded
	}
	conns[sub.clientID] = sub
	return nil
}

// remove deregisters (topic, clientID). It reports the removed subscription
// (nil when absent) and whether the topic is now empty so the caller can
// tear down per-topic state.
func (r *registry) remove(topic, clientID string) (sub *Subscription, emptied bool) {
	conns, ok := r.topics[topic]
	if !ok {
		return nil, false
	}
	sub, ok = conns[clientID]
	if !ok {
		return nil, false
	}
	delete(conns, clientID)
	if len(conns) == 0 {
		delete(r.topics, topic)
		return sub, true
	}
	return sub, false
}

// touch records subscriber activity for idle tracking.
func (r *registry) touch(topic, clientID string, now time.Time) bool {
	sub := r.get(topic, clientID)
	if sub == nil {
		return false
	}
	sub.lastActivity = now
	return true
}

// list returns the topic's subscriptions in unspecified order.
func (r *registry) list(topic string) []*Subscription {
	conns, ok := r.topics[topic]
	if !ok {
		return nil
	}
	out := make([]*Subscription, 0, len(conns))
	for _, sub := range conns {
		out = append(out, sub)
	}
	return out
}

// sweep removes every subscription idle longer than maxIdle as of now. It
// returns the removed subscriptions and the topics left empty by the sweep.
func (r *registry) sweep(maxIdle time.Duration, now time.Time) (removed []*Subscription, emptiedTopics []string) {
	for topic, conns := range r.topics {
		for clientID, sub := range conns {
			if now.Sub(sub.lastActivity) > maxIdle {
				delete(conns, clientID)
				removed = append(removed, sub)
			}
		}
		if len(conns) == 0 {
			delete(r.topics, topic)
			emptiedTopics = append(emptiedTopics, topic)
		}
	}
	return removed, emptiedTopics
}

// drain removes and returns every subscription across all topics.
func (r *registry) drain() []*Subscription {
	var out []*Subscription
	for _, conns := range r.topics {
		for _, sub := range conns {
			out = append(out, sub)
		}
	}
	r.topics = make(map[string]map[string]*Subscription)
	return out
}

func (r *registry) count(topic string) int {
	return len(r.topics[topic])
}

func (r *registry) total() int {
	n := 0
	for _, conns := range r.topics {
		n += len(conns)
	}
	return n
}
