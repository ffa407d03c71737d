// Package sio encodes and decodes the Engine.IO v4 / Socket.IO v5 text
// packets carried over a websocket.
//
// An Engine.IO frame is a one-digit type followed by its data. Message
// frames (type 4) carry a Socket.IO packet:
//
//	<type>[<namespace>,][<ack id>][<json>]
//
// where the namespace is omitted for "/". Binary attachments are not
// supported.
package sio

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// EngineType is an Engine.IO packet type.
type EngineType byte

const (
	EngineOpen    EngineType = '0'
	EngineClose   EngineType = '1'
	EnginePing    EngineType = '2'
	EnginePong    EngineType = '3'
	EngineMessage EngineType = '4'
	EngineUpgrade EngineType = '5'
	EngineNoop    EngineType = '6'
)

// Type is a Socket.IO packet type.
type Type byte

const (
	Connect      Type = '0'
	Disconnect   Type = '1'
	Event        Type = '2'
	Ack          Type = '3'
	ConnectError Type = '4'
	BinaryEvent  Type = '5'
	BinaryAck    Type = '6'
)

// NoID marks a packet without an ack id.
const NoID = -1

var (
	ErrEmpty  = errors.New("sio: empty packet")
	ErrBinary = errors.New("sio: binary packets are not supported")
)

// Open is the payload of the Engine.IO open packet.
type Open struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// Packet is one decoded Socket.IO packet.
type Packet struct {
	Type      Type
	Namespace string
	ID        int
	Data      json.RawMessage
}

// SplitEngine separates an Engine.IO frame into its type and data.
func SplitEngine(frame string) (EngineType, string, error) {
	if frame == "" {
		return 0, "", ErrEmpty
	}
	t := EngineType(frame[0])
	if t < EngineOpen || t > EngineNoop {
		return 0, "", errors.Errorf("sio: unknown engine packet type %q", frame[0])
	}
	return t, frame[1:], nil
}

// EncodeEngine prefixes data with the engine packet type.
func EncodeEngine(t EngineType, data string) string {
	return string([]byte{byte(t)}) + data
}

// Encode renders p as a complete Engine.IO message frame.
func Encode(p Packet) string {
	var b strings.Builder
	b.WriteByte(byte(EngineMessage))
	b.WriteByte(byte(p.Type))
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.ID >= 0 {
		b.WriteString(strconv.Itoa(p.ID))
	}
	if len(p.Data) > 0 {
		b.Write(p.Data)
	}
	return b.String()
}

// Decode parses the data of an Engine.IO message frame.
func Decode(data string) (Packet, error) {
	p := Packet{Namespace: "/", ID: NoID}
	if data == "" {
		return p, ErrEmpty
	}
	p.Type = Type(data[0])
	if p.Type < Connect || p.Type > BinaryAck {
		return p, errors.Errorf("sio: unknown packet type %q", data[0])
	}
	if p.Type == BinaryEvent || p.Type == BinaryAck {
		return p, ErrBinary
	}
	rest := data[1:]

	if strings.HasPrefix(rest, "/") {
		end := strings.IndexByte(rest, ',')
		if end < 0 {
			p.Namespace = rest
			return p, nil
		}
		p.Namespace = rest[:end]
		rest = rest[end+1:]
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.Atoi(rest[:i])
		if err != nil {
			return p, errors.Wrap(err, "sio: ack id")
		}
		p.ID = id
		rest = rest[i:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return p, errors.New("sio: invalid json payload")
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// EventPacket builds an EVENT packet with the given name and arguments.
func EventPacket(namespace string, id int, name string, args ...any) (Packet, error) {
	items := make([]any, 0, len(args)+1)
	items = append(items, name)
	items = append(items, args...)
	data, err := json.Marshal(items)
	if err != nil {
		return Packet{}, errors.Wrapf(err, "sio: encode %s", name)
	}
	return Packet{Type: Event, Namespace: namespace, ID: id, Data: data}, nil
}

// AckPacket builds an ACK packet answering id.
func AckPacket(namespace string, id int, args ...any) (Packet, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return Packet{}, errors.Wrap(err, "sio: encode ack")
	}
	return Packet{Type: Ack, Namespace: namespace, ID: id, Data: data}, nil
}

// ConnectPacket builds a namespace CONNECT carrying an optional auth
// payload (client side) or the socket sid (server side).
func ConnectPacket(namespace string, payload any) (Packet, error) {
	p := Packet{Type: Connect, Namespace: namespace, ID: NoID}
	if payload == nil {
		return p, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return p, errors.Wrap(err, "sio: encode connect")
	}
	p.Data = data
	return p, nil
}

// Args splits an EVENT or ACK payload array.
func (p Packet) Args() ([]json.RawMessage, error) {
	if len(p.Data) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(p.Data, &items); err != nil {
		return nil, errors.Wrap(err, "sio: payload is not an array")
	}
	return items, nil
}

// EventName returns the name and remaining arguments of an EVENT packet.
func (p Packet) EventName() (string, []json.RawMessage, error) {
	items, err := p.Args()
	if err != nil {
		return "", nil, err
	}
	if len(items) == 0 {
		return "", nil, errors.New("sio: event without a name")
	}
	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		return "", nil, errors.Wrap(err, "sio: event name")
	}
	return name, items[1:], nil
}

// ErrorMessage extracts the reason from a CONNECT_ERROR payload, which is
// an object with a message field in v5 and a bare string in older servers.
func (p Packet) ErrorMessage() string {
	if len(p.Data) == 0 {
		return "connect error"
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(p.Data, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(p.Data, &s); err == nil && s != "" {
		return s
	}
	return string(p.Data)
}
