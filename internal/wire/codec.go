package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/chatline/internal/chaterr"
	"github.com/tidwall/gjson"
)

// EncodeEnvelope encodes an outbound message envelope.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	return marshal(TypeEnvelope, env)
}

// EncodeAuth encodes the authentication frame.
func EncodeAuth(token string) ([]byte, error) {
	return marshal(TypeAuth, Auth{Token: token})
}

// EncodePing encodes a heartbeat ping.
func EncodePing() []byte {
	return []byte(`{"type":"ping"}`)
}

// Encode encodes an inbound frame. Servers and test doubles use it.
func Encode(f Frame) ([]byte, error) {
	switch f.Type {
	case TypeMessage:
		return marshal(f.Type, f.Message)
	case TypeAck:
		return marshal(f.Type, f.Ack)
	case TypePresence:
		return marshal(f.Type, f.Presence)
	case TypeError:
		return marshal(f.Type, f.Error)
	case TypeAuthOK:
		return marshal(f.Type, f.AuthOK)
	case TypePong:
		return []byte(`{"type":"pong"}`), nil
	default:
		return nil, fmt.Errorf("encode: unknown frame type %q", f.Type)
	}
}

// Decode parses an inbound frame. Malformed JSON, unknown types and frames
// missing required fields yield a ProtocolError.
func Decode(data []byte) (Frame, error) {
	if !gjson.ValidBytes(data) {
		return Frame{}, chaterr.New(chaterr.KindProtocol, "decode", "malformed frame")
	}
	typ := gjson.GetBytes(data, "type").String()
	f := Frame{Type: typ}

	var err error
	switch typ {
	case TypeMessage:
		f.Message = &Message{}
		if err = unmarshal(data, f.Message); err == nil {
			err = require(typ, f.Message.ConversationID != "" && f.Message.ServerID != "" && f.Message.Sequence > 0)
		}
	case TypeAck:
		f.Ack = &Ack{}
		if err = unmarshal(data, f.Ack); err == nil {
			err = require(typ, f.Ack.TempID != "" && f.Ack.ServerID != "" && f.Ack.Sequence > 0)
		}
	case TypePresence:
		f.Presence = &Presence{}
		if err = unmarshal(data, f.Presence); err == nil {
			err = require(typ, f.Presence.UserID != "" && f.Presence.Status != "")
		}
	case TypeError:
		f.Error = &Error{}
		if err = unmarshal(data, f.Error); err == nil {
			err = require(typ, f.Error.Code != "")
		}
	case TypeAuthOK:
		f.AuthOK = &AuthOK{}
		err = unmarshal(data, f.AuthOK)
	case TypePong:
	case "":
		err = chaterr.New(chaterr.KindProtocol, "decode", "frame has no type")
	default:
		err = chaterr.New(chaterr.KindProtocol, "decode", fmt.Sprintf("unknown frame type %q", typ))
	}
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

// DecodeOutbound parses a client frame.
func DecodeOutbound(data []byte) (Outbound, error) {
	if !gjson.ValidBytes(data) {
		return Outbound{}, chaterr.New(chaterr.KindProtocol, "decode", "malformed frame")
	}
	o := Outbound{Type: gjson.GetBytes(data, "type").String()}
	switch o.Type {
	case TypeEnvelope:
		o.Envelope = &Envelope{}
		return o, unmarshal(data, o.Envelope)
	case TypeAuth:
		o.Auth = &Auth{}
		return o, unmarshal(data, o.Auth)
	case TypePing:
		return o, nil
	default:
		return Outbound{}, chaterr.New(chaterr.KindProtocol, "decode", fmt.Sprintf("unknown frame type %q", o.Type))
	}
}

// marshal encodes v and splices the type discriminator in as the first field.
func marshal(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if body[0] != '{' {
		return nil, fmt.Errorf("encode %s: payload is not an object", typ)
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	t, _ := json.Marshal(typ)
	buf.Write(t)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return chaterr.Protocol("decode", err)
	}
	return nil
}

func require(typ string, ok bool) error {
	if ok {
		return nil
	}
	return chaterr.New(chaterr.KindProtocol, "decode", typ+" frame missing required fields")
}
