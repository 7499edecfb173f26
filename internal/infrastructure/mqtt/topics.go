package mqtt

import (
	"fmt"
	"strings"
)

// MQTT topic limits.
const (
	// maxTopicLength is the MQTT 3.1.1 limit for a UTF-8 encoded topic.
	maxTopicLength = 65535

	wildcardSingle = "+"
	wildcardMulti  = "#"
)

// ValidatePublishTopic checks that topic can be used as a publish target.
// Publish topics must be non-empty and must not contain wildcards.
func ValidatePublishTopic(topic string) error {
	if err := validateTopicBasics(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, wildcardSingle+wildcardMulti) {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateSubscribeTopic checks that topic is a well-formed subscription filter.
//
// Wildcards must occupy a whole level: "+" anywhere, "#" only as the last level.
func ValidateSubscribeTopic(topic string) error {
	if err := validateTopicBasics(topic); err != nil {
		return err
	}

	levels := strings.Split(topic, "/")
	for i, level := range levels {
		if level == wildcardMulti {
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q must be the last level in %q", ErrInvalidTopic, wildcardMulti, topic)
			}
			continue
		}
		if level == wildcardSingle {
			continue
		}
		if strings.ContainsAny(level, wildcardSingle+wildcardMulti) {
			return fmt.Errorf("%w: wildcard must occupy a whole level in %q", ErrInvalidTopic, topic)
		}
	}
	return nil
}

func validateTopicBasics(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	return nil
}
