package schema

import "strings"

// Topic builds the subscription key for one instrument on one channel,
// e.g. "ETH-SPOT@orderBook".
func Topic(instrumentID string, channel Channel) string {
	return instrumentID + "@" + string(channel)
}

// SplitTopic breaks a topic back into instrument id and channel. ok is false
// when the string has no channel suffix.
func SplitTopic(topic string) (instrumentID string, channel Channel, ok bool) {
	i := strings.LastIndex(topic, "@")
	if i <= 0 || i == len(topic)-1 {
		return "", "", false
	}
	return topic[:i], Channel(topic[i+1:]), true
}

// RateClassFor classifies an instrument id by its name: a two-segment id
// whose second segment is "SPOT" (e.g. "ETH-SPOT") trades at a floating
// rate; dated instruments (e.g. "ETH-2023-10-07") are fixed rate.
func RateClassFor(instrumentID string) RateClass {
	parts := strings.Split(instrumentID, "-")
	if len(parts) == 2 && parts[1] == "SPOT" {
		return RateFloating
	}
	return RateFixed
}
