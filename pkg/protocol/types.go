package protocol

// Frame discriminants carried in the "t" field.
const (
	TypeHello = "hello"
	TypeRelay = "relay"
	TypeAck   = "ack"
	TypeError = "err"
	TypeMsg   = "msg"
)

// Error reasons reported to clients in {"t":"err"} frames.
const (
	ReasonNotAuthenticated = "not_authenticated"
	ReasonRecipientOffline = "recipient_offline"
	ReasonUnknownType      = "unknown_type"
)

// Field bounds, counted in UTF-16 code units.
const (
	MaxIdentityLen = 64
	MaxPayloadLen  = 8192
)

// Frame is a decoded client frame. The set of implementations is closed:
// Hello and Relay.
type Frame interface {
	frameType() string
}

// Hello binds the sending connection to Identity.
type Hello struct {
	Identity string
}

// Relay asks the server to forward Data to the connection registered as To.
// Data is opaque and is never inspected.
type Relay struct {
	To   string
	Data string
}

func (Hello) frameType() string { return TypeHello }
func (Relay) frameType() string { return TypeRelay }

// ServerFrame is the client-side view of any frame the server sends.
// Only the fields belonging to T are meaningful.
type ServerFrame struct {
	T      string `json:"t"`
	UserID string `json:"userId,omitempty"`
	Error  string `json:"error,omitempty"`
	From   string `json:"from,omitempty"`
	Data   string `json:"data,omitempty"`
}

type helloFrame struct {
	T      string `json:"t"`
	UserID string `json:"userId"`
}

type relayFrame struct {
	T    string `json:"t"`
	To   string `json:"to"`
	Data string `json:"data"`
}

type ackFrame struct {
	T      string `json:"t"`
	UserID string `json:"userId"`
}

type errFrame struct {
	T     string `json:"t"`
	Error string `json:"error"`
}

type deliveryFrame struct {
	T    string `json:"t"`
	From string `json:"from"`
	Data string `json:"data"`
}
