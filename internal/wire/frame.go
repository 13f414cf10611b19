package wire

// Frame type discriminators carried in the "type" field of every frame.
const (
	// Client to server.
	TypeEnvelope = "envelope"
	TypeAuth     = "auth"
	TypePing     = "ping"

	// Server to client.
	TypeMessage  = "message"
	TypeAck      = "ack"
	TypePresence = "presence"
	TypeError    = "error"
	TypeAuthOK   = "auth_ok"
	TypePong     = "pong"
)

// Error codes the server may send in an error frame.
const (
	CodeUnauthorized = "unauthorized"
	CodeTokenExpired = "token_expired"
	CodeRejected     = "rejected"
)

// Envelope is the outbound unit submitted for a single message.
type Envelope struct {
	TempID          string `json:"tempId"`
	ConversationID  string `json:"conversationId"`
	Content         string `json:"content"`
	ClientTimestamp int64  `json:"clientTimestamp"`
}

// Auth opens the authentication phase of a connection.
type Auth struct {
	Token string `json:"token"`
}

// Message is a server-sequenced chat message. TempID is set when the server
// echoes a message this client originated.
type Message struct {
	ConversationID  string `json:"conversationId"`
	ServerID        string `json:"serverId"`
	Sequence        int64  `json:"sequence"`
	SenderID        string `json:"senderId"`
	Content         string `json:"content"`
	ServerTimestamp int64  `json:"serverTimestamp"`
	TempID          string `json:"tempId,omitempty"`
}

// Ack confirms an envelope and assigns its server identity.
type Ack struct {
	TempID   string `json:"tempId"`
	ServerID string `json:"serverId"`
	Sequence int64  `json:"sequence"`
}

// Presence reports a user's status. ConversationID scopes "typing".
type Presence struct {
	UserID         string `json:"userId"`
	Status         string `json:"status"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Error is a server-reported failure. TempID identifies a rejected envelope.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"tempId,omitempty"`
}

// AuthOK completes the authentication phase.
type AuthOK struct {
	UserID string `json:"userId"`
}

// Frame is a decoded inbound frame. Exactly one payload field matching Type is set.
type Frame struct {
	Type     string
	Message  *Message
	Ack      *Ack
	Presence *Presence
	Error    *Error
	AuthOK   *AuthOK
}

// Outbound is a decoded client frame, used by servers and test doubles.
type Outbound struct {
	Type     string
	Envelope *Envelope
	Auth     *Auth
}
