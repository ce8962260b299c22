package protocol

import "strings"

// MessageType is the Type string of a gateway frame.
type MessageType string

// Commands sent by the client
const (
	TypeLogin          MessageType = "POST_LOGIN"
	TypeSubscribe      MessageType = "POST_SUB_CHANGES"
	TypeUnsubscribe    MessageType = "POST_UNSUB_CHANGES"
	TypeGetConnected   MessageType = "GET_DYN_CONNECTED"
	TypeTakeDynReading MessageType = "TAKE_DYN_READING"
)

// Direct responses
const (
	TypeLoginResponse       MessageType = "RTN_LOGIN"
	TypeSubscribeResponse   MessageType = "RTN_SUB_CHANGES"
	TypeUnsubscribeResponse MessageType = "RTN_UNSUB_CHANGES"
	TypeConnectedResponse   MessageType = "RTN_DYN"
	TypeReadingResponse     MessageType = "RTN_DYN_READING"
	TypeError               MessageType = "RTN_ERR"
)

// Async notifications
const (
	TypeReadingStarted MessageType = "NOT_DYN_READING_STARTED"
	TypeReading        MessageType = "NOT_DYN_READING"
	TypeTemperature    MessageType = "NOT_DYN_TEMP"
)

const (
	responsePrefix     = "RTN_"
	notificationPrefix = "NOT_"
)

// Kind classifies a frame for routing.
type Kind int

const (
	// KindUnknown is anything the client does not recognise by prefix.
	KindUnknown Kind = iota
	// KindCommand is a client-initiated request.
	KindCommand
	// KindResponse is a direct reply to a command.
	KindResponse
	// KindNotification is an unsolicited push from the gateway.
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Kind classifies the type by its prefix.
func (t MessageType) Kind() Kind {
	s := string(t)
	switch {
	case strings.HasPrefix(s, responsePrefix):
		return KindResponse
	case strings.HasPrefix(s, notificationPrefix):
		return KindNotification
	case strings.HasPrefix(s, "POST_"), strings.HasPrefix(s, "GET_"), strings.HasPrefix(s, "TAKE_"):
		return KindCommand
	default:
		return KindUnknown
	}
}

// IsError reports whether the type is the gateway error reply.
func (t MessageType) IsError() bool {
	return t == TypeError
}

var expectedResponses = map[MessageType]MessageType{
	TypeLogin:          TypeLoginResponse,
	TypeSubscribe:      TypeSubscribeResponse,
	TypeUnsubscribe:    TypeUnsubscribeResponse,
	TypeGetConnected:   TypeConnectedResponse,
	TypeTakeDynReading: TypeReadingResponse,
}

// ExpectedResponse returns the success reply type for a command. Unknown
// commands map to the conventional RTN_ form of their suffix.
func ExpectedResponse(cmd MessageType) MessageType {
	if rsp, ok := expectedResponses[cmd]; ok {
		return rsp
	}
	s := string(cmd)
	if i := strings.IndexByte(s, '_'); i >= 0 {
		return MessageType(responsePrefix + s[i+1:])
	}
	return MessageType(responsePrefix + s)
}
