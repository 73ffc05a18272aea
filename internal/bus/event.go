package bus

import "time"

// Topic names a notification. Topics are dotted, grouped by the component that emits them.
type Topic string

const (
	RelayStateChanged Topic = "relay.state_changed"

	PresenceUpdated Topic = "presence.updated"

	ChatTimelineChanged     Topic = "chat.timeline_changed"
	ChatConversationUpdated Topic = "chat.conversation_updated"
	ChatMessageSent         Topic = "chat.message_sent"
	ChatMessageFailed       Topic = "chat.message_failed"
	ChatUploadProgress      Topic = "chat.upload_progress"
	ChatNotice              Topic = "chat.notice"
	ChatNotification        Topic = "chat.notification"
	ChatUnreadTotal         Topic = "chat.unread_total"

	CallStateChanged Topic = "call.state_changed"
	CallRemoteMedia  Topic = "call.remote_media"
	CallIncoming     Topic = "call.incoming"
	CallRemoteTrack  Topic = "call.remote_track"
)

// Event is a single notification on the bus.
type Event struct {
	Topic   Topic
	At      time.Time
	Payload any
}
