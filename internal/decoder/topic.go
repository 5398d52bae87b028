package decoder

import (
	"fmt"
	"strings"
)

// TopicMatches reports whether a concrete topic matches an MQTT topic
// filter. "+" matches one level, a trailing "#" matches the parent level and
// everything below it. Wildcards never match topics starting with "$".
func TopicMatches(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

// ValidateTopicFilter rejects filters the broker would refuse: "#" only as
// the whole last level, "+" only as a whole level.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("topic filter is empty")
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("invalid topic filter %q: # must be the last level on its own", filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("invalid topic filter %q: + must occupy a whole level", filter)
		}
	}
	return nil
}
