// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package wire defines the message format of the tickwire datagram protocol.
//
// A datagram consists of a 3-byte header followed by one or more messages:
//
//	[seq:u16][reliable:u8][message]...
//
// Each message begins with a 1-byte [Type] tag followed by a body whose
// layout depends on the type. Multi-byte values are big-endian, and strings
// carry a 4-byte length prefix.
package wire

import (
	"fmt"
	"strings"

	"github.com/creachadair/tickwire/packet"
)

// Protocol limits.
const (
	// Header is the size in bytes of the datagram header.
	Header = 3

	// MaxMessageSize is the maximum number of message bytes carried by a
	// single datagram, not including the header.
	MaxMessageSize = 500

	// MaxDatagramSize is the maximum size in bytes of a complete datagram.
	MaxDatagramSize = Header + MaxMessageSize

	// SessionNameLen is the maximum length of a session name in a Broadcast
	// message. The name is stored in a fixed NUL-terminated field.
	SessionNameLen = 31

	// BroadcastMagic identifies a session advertisement.
	BroadcastMagic = 0x4f435421

	// MaxReplicateFields is the maximum number of fields accepted in a single
	// decoded Replicate message.
	MaxReplicateFields = 64

	// MaxParams is the maximum number of parameters in an Invoke message.
	MaxParams = 8

	// NoNetID is the net id sentinel meaning "no entity".
	NoNetID = 0
)

// Type is the tag identifying the format of a message.
type Type byte

const (
	TypeConnect          Type = 0
	TypeAccept           Type = 1
	TypeReject           Type = 2
	TypeDisconnect       Type = 3
	TypeKick             Type = 4
	TypeReady            Type = 5
	TypeSpawn            Type = 6
	TypeDestroy          Type = 7
	TypePing             Type = 8
	TypeReplicate        Type = 9
	TypeReplicateContext Type = 10
	TypeInvoke           Type = 11
	TypeInvokeContext    Type = 12
	TypeBroadcast        Type = 13
	TypeAck              Type = 14
)

func (t Type) String() string {
	switch t {
	case TypeConnect:
		return "CONNECT"
	case TypeAccept:
		return "ACCEPT"
	case TypeReject:
		return "REJECT"
	case TypeDisconnect:
		return "DISCONNECT"
	case TypeKick:
		return "KICK"
	case TypeReady:
		return "READY"
	case TypeSpawn:
		return "SPAWN"
	case TypeDestroy:
		return "DESTROY"
	case TypePing:
		return "PING"
	case TypeReplicate:
		return "REPLICATE"
	case TypeReplicateContext:
		return "REPLICATE_CONTEXT"
	case TypeInvoke:
		return "INVOKE"
	case TypeInvokeContext:
		return "INVOKE_CONTEXT"
	case TypeBroadcast:
		return "BROADCAST"
	case TypeAck:
		return "ACK"
	default:
		return fmt.Sprintf("TYPE:%d", byte(t))
	}
}

// RejectReason explains why a server refused a connection.
type RejectReason byte

const (
	RejectInvalidGameID   RejectReason = 0
	RejectVersionMismatch RejectReason = 1
	RejectSessionFull     RejectReason = 2
)

func (r RejectReason) String() string {
	switch r {
	case RejectInvalidGameID:
		return "InvalidGameID"
	case RejectVersionMismatch:
		return "VersionMismatch"
	case RejectSessionFull:
		return "SessionFull"
	default:
		return fmt.Sprintf("RejectReason:%d", byte(r))
	}
}

// KickReason explains why a peer was removed from a session.
type KickReason byte

const (
	KickSessionClosed KickReason = 0
	KickTimeout       KickReason = 1
	KickForced        KickReason = 2
)

func (r KickReason) String() string {
	switch r {
	case KickSessionClosed:
		return "SessionClosed"
	case KickTimeout:
		return "Timeout"
	case KickForced:
		return "Forced"
	default:
		return fmt.Sprintf("KickReason:%d", byte(r))
	}
}

// A Message is a single protocol message. The concrete type of a Message is
// one of the pointer types defined in this package.
type Message interface {
	// Type reports the tag for the message.
	Type() Type

	// String renders the message in human-readable form.
	String() string

	encode(*packet.Builder)
	decode(*packet.Scanner) error
}

// Connect asks a server to admit the sender to its session.
type Connect struct {
	GameID  uint32
	Version uint32
}

// Accept admits a client and assigns its host id.
type Accept struct {
	HostID byte
}

// Reject refuses a connection.
type Reject struct {
	Reason RejectReason
}

// Disconnect announces that a client is leaving the session.
type Disconnect struct{}

// Kick removes a client from the session.
type Kick struct {
	Reason KickReason
}

// Ready is sent by the server after the initial spawns, and echoed by the
// client once it has loaded them.
type Ready struct{}

// Ping keeps a quiet session alive.
type Ping struct{}

// Spawn creates a replicated entity on the receiver.
type Spawn struct {
	TypeID      uint32
	NetID       uint32
	ParentNetID uint32 // NoNetID for a root entity
	Name        string
}

// Destroy removes a replicated entity from the receiver.
type Destroy struct {
	NetID uint32
}

// FieldValue is a single replicated field update.
type FieldValue struct {
	Index uint16
	Value Value
}

// Replicate carries field updates for an entity.
type Replicate struct {
	NetID  uint32
	Fields []FieldValue

	// Reliable selects the reliable channel. It is not encoded.
	Reliable bool
}

// ReplicateContext carries field updates for a named component of an entity.
type ReplicateContext struct {
	NetID   uint32
	Fields  []FieldValue
	Context string

	// Reliable selects the reliable channel. It is not encoded.
	Reliable bool
}

// Invoke calls a remote function on an entity.
type Invoke struct {
	NetID  uint32
	Func   uint16
	Params []Value

	// Reliable selects the reliable channel. It is not encoded.
	Reliable bool
}

// InvokeContext calls a remote function on a named component of an entity.
type InvokeContext struct {
	NetID   uint32
	Func    uint16
	Params  []Value
	Context string

	// Reliable selects the reliable channel. It is not encoded.
	Reliable bool
}

// Broadcast advertises a session on the local network.
type Broadcast struct {
	GameID     uint32
	Version    uint32
	Name       string // at most SessionNameLen bytes are encoded
	MaxPlayers byte
	NumPlayers byte
}

// BroadcastSize is the encoded size of a Broadcast message body.
const BroadcastSize = 4 + 4 + 4 + (SessionNameLen + 1) + 1 + 1

// Ack acknowledges receipt of a reliable datagram.
type Ack struct {
	Seq uint16
}

func (*Connect) Type() Type          { return TypeConnect }
func (*Accept) Type() Type           { return TypeAccept }
func (*Reject) Type() Type           { return TypeReject }
func (*Disconnect) Type() Type       { return TypeDisconnect }
func (*Kick) Type() Type             { return TypeKick }
func (*Ready) Type() Type            { return TypeReady }
func (*Ping) Type() Type             { return TypePing }
func (*Spawn) Type() Type            { return TypeSpawn }
func (*Destroy) Type() Type          { return TypeDestroy }
func (*Replicate) Type() Type        { return TypeReplicate }
func (*ReplicateContext) Type() Type { return TypeReplicateContext }
func (*Invoke) Type() Type           { return TypeInvoke }
func (*InvokeContext) Type() Type    { return TypeInvokeContext }
func (*Broadcast) Type() Type        { return TypeBroadcast }
func (*Ack) Type() Type              { return TypeAck }

// Reliable reports whether m must be sent on the reliable channel.
func Reliable(m Message) bool {
	switch t := m.(type) {
	case *Accept, *Ready, *Spawn, *Destroy:
		return true
	case *Replicate:
		return t.Reliable
	case *ReplicateContext:
		return t.Reliable
	case *Invoke:
		return t.Reliable
	case *InvokeContext:
		return t.Reliable
	}
	return false
}

// Encode returns the binary encoding of m, including its type tag.
func Encode(m Message) []byte {
	var b packet.Builder
	Append(&b, m)
	return b.Bytes()
}

// Append appends the binary encoding of m, including its type tag, to b.
func Append(b *packet.Builder, m Message) {
	b.Byte(byte(m.Type()))
	m.encode(b)
}

// Size reports the encoded size of m in bytes, including its type tag.
func Size(m Message) int {
	var b packet.Builder
	Append(&b, m)
	return b.Len()
}

// Decode decodes a single message from the head of s.
// If decoding fails, the state of s is unspecified.
func Decode(s *packet.Scanner) (Message, error) {
	tag, err := s.Byte()
	if err != nil {
		return nil, fmt.Errorf("message tag: %w", err)
	}
	var m Message
	switch Type(tag) {
	case TypeConnect:
		m = new(Connect)
	case TypeAccept:
		m = new(Accept)
	case TypeReject:
		m = new(Reject)
	case TypeDisconnect:
		m = new(Disconnect)
	case TypeKick:
		m = new(Kick)
	case TypeReady:
		m = new(Ready)
	case TypePing:
		m = new(Ping)
	case TypeSpawn:
		m = new(Spawn)
	case TypeDestroy:
		m = new(Destroy)
	case TypeReplicate:
		m = new(Replicate)
	case TypeReplicateContext:
		m = new(ReplicateContext)
	case TypeInvoke:
		m = new(Invoke)
	case TypeInvokeContext:
		m = new(InvokeContext)
	case TypeBroadcast:
		m = new(Broadcast)
	case TypeAck:
		m = new(Ack)
	default:
		return nil, fmt.Errorf("unknown message type %d", tag)
	}
	if err := m.decode(s); err != nil {
		return nil, fmt.Errorf("decode %v: %w", m.Type(), err)
	}
	return m, nil
}

func (m *Connect) encode(b *packet.Builder) {
	b.Uint32(m.GameID)
	b.Uint32(m.Version)
}
func (m *Connect) decode(s *packet.Scanner) error {
	return packet.Parse(s, &m.GameID, &m.Version)
}

func (m *Accept) encode(b *packet.Builder)       { b.Byte(m.HostID) }
func (m *Accept) decode(s *packet.Scanner) error { return packet.Parse(s, &m.HostID) }

func (m *Reject) encode(b *packet.Builder) { b.Byte(byte(m.Reason)) }
func (m *Reject) decode(s *packet.Scanner) error {
	v, err := s.Byte()
	m.Reason = RejectReason(v)
	return err
}

func (*Disconnect) encode(*packet.Builder)       {}
func (*Disconnect) decode(*packet.Scanner) error { return nil }

func (m *Kick) encode(b *packet.Builder) { b.Byte(byte(m.Reason)) }
func (m *Kick) decode(s *packet.Scanner) error {
	v, err := s.Byte()
	m.Reason = KickReason(v)
	return err
}

func (*Ready) encode(*packet.Builder)       {}
func (*Ready) decode(*packet.Scanner) error { return nil }

func (*Ping) encode(*packet.Builder)       {}
func (*Ping) decode(*packet.Scanner) error { return nil }

func (m *Spawn) encode(b *packet.Builder) {
	b.Uint32(m.TypeID)
	b.Uint32(m.NetID)
	b.Uint32(m.ParentNetID)
	b.String32(m.Name)
}
func (m *Spawn) decode(s *packet.Scanner) error {
	return packet.Parse(s, &m.TypeID, &m.NetID, &m.ParentNetID, &m.Name)
}

func (m *Destroy) encode(b *packet.Builder)       { b.Uint32(m.NetID) }
func (m *Destroy) decode(s *packet.Scanner) error { return packet.Parse(s, &m.NetID) }

func (m *Replicate) encode(b *packet.Builder) { encodeFields(b, m.NetID, m.Fields) }
func (m *Replicate) decode(s *packet.Scanner) (err error) {
	m.NetID, m.Fields, err = decodeFields(s)
	return err
}

func (m *ReplicateContext) encode(b *packet.Builder) {
	encodeFields(b, m.NetID, m.Fields)
	b.String32(m.Context)
}
func (m *ReplicateContext) decode(s *packet.Scanner) (err error) {
	m.NetID, m.Fields, err = decodeFields(s)
	if err != nil {
		return err
	}
	return packet.Parse(s, &m.Context)
}

func (m *Invoke) encode(b *packet.Builder) { encodeCall(b, m.NetID, m.Func, m.Params) }
func (m *Invoke) decode(s *packet.Scanner) (err error) {
	m.NetID, m.Func, m.Params, err = decodeCall(s)
	return err
}

func (m *InvokeContext) encode(b *packet.Builder) {
	encodeCall(b, m.NetID, m.Func, m.Params)
	b.String32(m.Context)
}
func (m *InvokeContext) decode(s *packet.Scanner) (err error) {
	m.NetID, m.Func, m.Params, err = decodeCall(s)
	if err != nil {
		return err
	}
	return packet.Parse(s, &m.Context)
}

func (m *Broadcast) encode(b *packet.Builder) {
	b.Uint32(BroadcastMagic)
	b.Uint32(m.GameID)
	b.Uint32(m.Version)
	var name [SessionNameLen + 1]byte
	copy(name[:SessionNameLen], truncate(m.Name, SessionNameLen))
	b.Put(name[:]...)
	b.Byte(m.MaxPlayers)
	b.Byte(m.NumPlayers)
}
func (m *Broadcast) decode(s *packet.Scanner) error {
	var magic uint32
	if err := packet.Parse(s, &magic, &m.GameID, &m.Version); err != nil {
		return err
	}
	if magic != BroadcastMagic {
		return fmt.Errorf("invalid broadcast magic %#08x", magic)
	}
	name, err := packet.Get[[]byte](s, SessionNameLen+1)
	if err != nil {
		return err
	}
	if i := strings.IndexByte(string(name), 0); i >= 0 {
		name = name[:i]
	}
	m.Name = string(name)
	return packet.Parse(s, &m.MaxPlayers, &m.NumPlayers)
}

func (m *Ack) encode(b *packet.Builder)       { b.Uint16(m.Seq) }
func (m *Ack) decode(s *packet.Scanner) error { return packet.Parse(s, &m.Seq) }

func encodeFields(b *packet.Builder, netID uint32, fields []FieldValue) {
	b.Uint32(netID)
	b.Uint16(uint16(len(fields)))
	for _, f := range fields {
		b.Uint16(f.Index)
		f.Value.Append(b)
	}
}

func decodeFields(s *packet.Scanner) (uint32, []FieldValue, error) {
	var netID uint32
	var count uint16
	if err := packet.Parse(s, &netID, &count); err != nil {
		return 0, nil, err
	}
	if count > MaxReplicateFields {
		return 0, nil, fmt.Errorf("too many fields (%d > %d)", count, MaxReplicateFields)
	}
	fields := make([]FieldValue, count)
	for i := range fields {
		if err := packet.Parse(s, &fields[i].Index); err != nil {
			return 0, nil, fmt.Errorf("field %d: %w", i, err)
		}
		v, err := ReadValue(s)
		if err != nil {
			return 0, nil, fmt.Errorf("field %d: %w", i, err)
		}
		fields[i].Value = v
	}
	return netID, fields, nil
}

func encodeCall(b *packet.Builder, netID uint32, fn uint16, params []Value) {
	if len(params) > MaxParams {
		panic(fmt.Sprintf("too many parameters (%d > %d)", len(params), MaxParams))
	}
	b.Uint32(netID)
	b.Uint16(fn)
	b.Byte(byte(len(params)))
	for _, p := range params {
		p.Append(b)
	}
}

func decodeCall(s *packet.Scanner) (uint32, uint16, []Value, error) {
	var netID uint32
	var fn uint16
	var count byte
	if err := packet.Parse(s, &netID, &fn, &count); err != nil {
		return 0, 0, nil, err
	}
	if count > MaxParams {
		return 0, 0, nil, fmt.Errorf("too many parameters (%d > %d)", count, MaxParams)
	}
	var params []Value
	for i := range int(count) {
		v, err := ReadValue(s)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("param %d: %w", i, err)
		}
		params = append(params, v)
	}
	return netID, fn, params, nil
}

// truncate returns a prefix of s no longer than n bytes that does not split a
// UTF-8 encoding.
func truncate(s string, n int) string {
	if n >= len(s) {
		return s
	}

	// Back up to the beginning of a UTF-8 encoding.
	for n > 0 && s[n-1]&0xc0 == 0x80 { // 0b10... is a continuation byte
		n--
	}

	// At the start of a multi-byte encoding, back up one more to skip it. The
	// encoding may have been complete, but then we only check one direction.
	if n > 0 && s[n-1]&0xc0 == 0xc0 { // 0b11... starts a multibyte encoding
		n--
	}
	return s[:n]
}
