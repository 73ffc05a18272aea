// Package wire defines the events exchanged with the relay server.
//
// Every frame on the relay connection is a JSON object naming the event kind
// and carrying the payload as JSON text. Decode is the single place that maps
// kind names to payload types.
package wire

// Kind names a relay event.
type Kind string

const (
	KindSendMessage     Kind = "sendMessage"
	KindMessageReceived Kind = "messageReceived"
	KindMessagesRead    Kind = "messagesRead"
	KindConnectedUsers  Kind = "connectedUsers"
	KindCallRequest     Kind = "callRequest"
	KindCallResponse    Kind = "callResponse"
	KindRTCConnection   Kind = "rtcConnection"
	KindCallEnd         Kind = "callEnd"
	KindCallMediaState  Kind = "callMediaState"
)

// Kinds lists every kind Decode understands.
var Kinds = []Kind{
	KindSendMessage,
	KindMessageReceived,
	KindMessagesRead,
	KindConnectedUsers,
	KindCallRequest,
	KindCallResponse,
	KindRTCConnection,
	KindCallEnd,
	KindCallMediaState,
}
