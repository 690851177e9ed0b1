package enums

import "fmt"

// LifecycleTopic names the event channel topic for a subscription transition.
type LifecycleTopic string

const (
	TopicSubscriptionCreated   LifecycleTopic = "subscription.created"
	TopicSubscriptionUpdated   LifecycleTopic = "subscription.updated"
	TopicSubscriptionCancelled LifecycleTopic = "subscription.cancelled"
	TopicSubscriptionExpired   LifecycleTopic = "subscription.expired"
)

// LifecycleTopics lists every topic the engine publishes on.
var LifecycleTopics = []LifecycleTopic{
	TopicSubscriptionCreated,
	TopicSubscriptionUpdated,
	TopicSubscriptionCancelled,
	TopicSubscriptionExpired,
}

func (t LifecycleTopic) String() string {
	return string(t)
}

// IsValid reports whether the value is a known lifecycle topic.
func (t LifecycleTopic) IsValid() bool {
	for _, candidate := range LifecycleTopics {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLifecycleTopic converts raw input into a LifecycleTopic.
func ParseLifecycleTopic(value string) (LifecycleTopic, error) {
	for _, candidate := range LifecycleTopics {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid lifecycle topic %q", value)
}

// Transition names an engine operation for logs and metrics.
type Transition string

const (
	TransitionCreate Transition = "create"
	TransitionUpdate Transition = "update"
	TransitionCancel Transition = "cancel"
	TransitionExpire Transition = "expire"
)

func (t Transition) String() string {
	return string(t)
}
