package events

// EventType enumerates the business occurrences surfaced on dashboards
type EventType string

// The closed set of feed event types
const (
	EventTypeUserSignup     EventType = "USER_SIGNUP"
	EventTypePurchase       EventType = "PURCHASE"
	EventTypeRefund         EventType = "REFUND"
	EventTypeProductCreated EventType = "PRODUCT_CREATED"
	EventTypeReviewCreated  EventType = "REVIEW_CREATED"
	EventTypeTicketCreated  EventType = "TICKET_CREATED"
	EventTypeSellerApproved EventType = "SELLER_APPROVED"
	EventTypeWithdrawal     EventType = "WITHDRAWAL"
)

// AllEventTypes the full closed enumeration of event types
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeUserSignup,
		EventTypePurchase,
		EventTypeRefund,
		EventTypeProductCreated,
		EventTypeReviewCreated,
		EventTypeTicketCreated,
		EventTypeSellerApproved,
		EventTypeWithdrawal,
	}
}

// Valid whether this is a member of the closed enumeration
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Title human readable title for this event type
func (t EventType) Title() string {
	switch t {
	case EventTypeUserSignup:
		return "New user signup"
	case EventTypePurchase:
		return "New purchase completed"
	case EventTypeRefund:
		return "Refund requested"
	case EventTypeProductCreated:
		return "New product listed"
	case EventTypeReviewCreated:
		return "New review posted"
	case EventTypeTicketCreated:
		return "New support ticket"
	case EventTypeSellerApproved:
		return "Seller approved"
	case EventTypeWithdrawal:
		return "Withdrawal requested"
	}
	return "Unknown event"
}

// DashboardIcon icon hint for dashboard clients
func (t EventType) DashboardIcon() string {
	switch t {
	case EventTypeUserSignup:
		return "UserPlus"
	case EventTypePurchase:
		return "ShoppingBag"
	case EventTypeRefund:
		return "RotateCcw"
	case EventTypeProductCreated:
		return "Package"
	case EventTypeReviewCreated:
		return "Star"
	case EventTypeTicketCreated:
		return "MessageSquare"
	case EventTypeSellerApproved:
		return "BadgeCheck"
	case EventTypeWithdrawal:
		return "Wallet"
	}
	return "Bell"
}

// DashboardColor color hint for dashboard clients
func (t EventType) DashboardColor() string {
	switch t {
	case EventTypeUserSignup:
		return "cyan"
	case EventTypePurchase, EventTypeSellerApproved:
		return "green"
	case EventTypeRefund, EventTypeWithdrawal:
		return "amber"
	case EventTypeProductCreated:
		return "violet"
	case EventTypeReviewCreated:
		return "magenta"
	case EventTypeTicketCreated:
		return "blue"
	}
	return "gray"
}

// EventPayload descriptive payload attached to a feed event
type EventPayload struct {
	// Title is the type derived human readable title
	Title string `json:"title"`
	// Description is the human readable description of the occurrence
	Description string `json:"description" validate:"required"`
	// UserID is the acting user's ID
	UserID string `json:"user_id,omitempty"`
	// UserName is the acting user's display name
	UserName string `json:"user_name,omitempty"`
	// Amount is the monetary amount tied to the occurrence, if any
	Amount int64 `json:"amount,omitempty"`
	// ProductID is the subject product's ID, if any
	ProductID string `json:"product_id,omitempty"`
	// ProductTitle is the subject product's title, if any
	ProductTitle string `json:"product_title,omitempty"`
	// Metadata holds additional free-form details
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Event one recorded business occurrence held in the feed
type Event struct {
	// ID unique event ID
	ID string `json:"id" validate:"required"`
	// Type is the event type
	Type EventType `json:"type" validate:"required"`
	// Timestamp is the event recording time in Unix ms. Insertion order is
	// authoritative for ordering; this value is non-decreasing.
	Timestamp int64 `json:"timestamp"`
	// Payload is the descriptive payload
	Payload EventPayload `json:"data"`
	// Read whether the event has been seen on a dashboard
	Read bool `json:"read"`
}

// EventStats aggregate statistics over the feed
type EventStats struct {
	// Counts per-type event counts across the full enumeration
	Counts map[EventType]int64 `json:"counts"`
	// TotalEvents total number of events counted
	TotalEvents int64 `json:"total_events"`
	// TotalRevenue summed purchase amounts
	TotalRevenue int64 `json:"total_revenue"`
	// TotalRefunds summed refund amounts
	TotalRefunds int64 `json:"total_refunds"`
	// UnreadCount number of unread events counted
	UnreadCount int64 `json:"unread_count"`
}
