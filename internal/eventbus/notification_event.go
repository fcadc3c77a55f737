package eventbus

import (
	"time"
)

// PushNotificationEvent asks the push gateway to deliver a topic notification.
type PushNotificationEvent struct {
	Notification TopicNotification         `json:"notification"`
	Meta         NotificationEventMetadata `json:"meta"`
}

// TopicNotification contains the notification details
type TopicNotification struct {
	Topic string `json:"topic"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NotificationEventMetadata contains metadata about the event
type NotificationEventMetadata struct {
	EventType       string    `json:"event_type"`
	SourceServiceID string    `json:"source_service_id"`
	RequestID       string    `json:"request_id"`
	Timestamp       time.Time `json:"timestamp"`
}
