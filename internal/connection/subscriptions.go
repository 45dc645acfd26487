package connection

// Subscribe sends one SUBSCRIBE for the given topics. The venue expects
// params as a bare array of topic strings. The tracked topic set is only
// updated once the venue acknowledges, see RecordAck.
func (m *Manager) Subscribe(key Key, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	return m.Send(key, MethodSubscribe, topics)
}

// Unsubscribe sends one UNSUBSCRIBE for the given topics.
func (m *Manager) Unsubscribe(key Key, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	return m.Send(key, MethodUnsubscribe, topics)
}

// RequestSubscriptions asks the venue to report the currently registered
// topic set; the answer arrives as a subscription acknowledgement frame.
func (m *Manager) RequestSubscriptions(key Key) error {
	return m.Send(key, MethodListSubscriptions, nil)
}

// RecordAck overwrites the tracked topic set with the authoritative list
// from a subscription acknowledgement. The server list always wins over any
// locally accumulated state.
func (m *Manager) RecordAck(key Key, topics []string) {
	h := m.handles[key]
	h.setTopics(topics)
	m.logger.Debug("subscription state updated", "conn", key, "topics", topics)
}

// Replay re-establishes the previously acknowledged topic set after a
// reconnect as a single bulk SUBSCRIBE. No-op when nothing was subscribed.
func (m *Manager) Replay(key Key) {
	topics := m.handles[key].Topics()
	if len(topics) == 0 {
		m.logger.Debug("no subscriptions to replay", "conn", key)
		return
	}

	m.logger.Info("replaying subscriptions", "conn", key, "count", len(topics))
	if err := m.Send(key, MethodSubscribe, topics); err != nil {
		m.logger.Error("subscription replay failed", "conn", key, "error", err)
	}
}
