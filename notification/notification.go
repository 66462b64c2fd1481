package notification

import (
	"fmt"
)

// Event is the business event a notification announces.
type Event string

const (
	EventNewRequest  Event = "NEW_REQUEST"
	EventRequestPaid Event = "REQUEST_PAID"
)

// Channel is the delivery medium. Only EMAIL is wired today.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
)

// Recipient selects who the notification addresses.
type Recipient string

const (
	RecipientCompany   Recipient = "COMPANY"
	RecipientRequester Recipient = "REQUESTER"
)

// Notification is one deliverable event for a request. Payload carries the
// request snapshot fields the downstream renderer needs; the sender never
// inspects them beyond the routing inputs.
type Notification struct {
	Event     Event
	Channel   Channel
	Recipient Recipient
	// Product is the request's insurance line, used for routing.
	Product string
	// RequestID correlates the notification with its request.
	RequestID string
	Payload   map[string]any
}

// Destination topics, one per historical notifier binding.
const (
	TopicNewPolicyCompanyEmail   = "notify.policy.new.company.email"
	TopicNewPolicyUserEmail      = "notify.policy.new.user.email"
	TopicNewCascoCompanyEmail    = "notify.casco.new.company.email"
	TopicNewCascoUserEmail       = "notify.casco.new.user.email"
	TopicRequestPaidCompanyEmail = "notify.paid.company.email"
)

// ResolveTopic maps an event/channel/recipient/product combination onto its
// outbox topic. Combinations without a binding are an argument error.
func ResolveTopic(n Notification) (string, error) {
	switch n.Event {
	case EventNewRequest:
		if n.Channel == ChannelEmail {
			switch n.Recipient {
			case RecipientCompany:
				switch n.Product {
				case "POLICY":
					return TopicNewPolicyCompanyEmail, nil
				case "CASCO":
					return TopicNewCascoCompanyEmail, nil
				}
			case RecipientRequester:
				switch n.Product {
				case "POLICY":
					return TopicNewPolicyUserEmail, nil
				case "CASCO":
					return TopicNewCascoUserEmail, nil
				}
			}
		}
	case EventRequestPaid:
		if n.Channel == ChannelEmail && n.Recipient == RecipientCompany {
			return TopicRequestPaidCompanyEmail, nil
		}
	}
	return "", fmt.Errorf("notification: no destination for event %q channel %q recipient %q product %q",
		n.Event, n.Channel, n.Recipient, n.Product)
}
