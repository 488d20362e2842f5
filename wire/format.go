// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package wire

import (
	"fmt"
	"strings"
)

func (m *Connect) String() string {
	return fmt.Sprintf("Connect(game=%#x, version=%d)", m.GameID, m.Version)
}

func (m *Accept) String() string    { return fmt.Sprintf("Accept(host=%d)", m.HostID) }
func (m *Reject) String() string    { return fmt.Sprintf("Reject(%v)", m.Reason) }
func (*Disconnect) String() string  { return "Disconnect" }
func (m *Kick) String() string      { return fmt.Sprintf("Kick(%v)", m.Reason) }
func (*Ready) String() string       { return "Ready" }
func (*Ping) String() string        { return "Ping" }
func (m *Destroy) String() string   { return fmt.Sprintf("Destroy(net=%d)", m.NetID) }
func (m *Ack) String() string       { return fmt.Sprintf("Ack(seq=%d)", m.Seq) }
func (m *Replicate) String() string { return "Replicate(" + formatFields(m.NetID, "", m.Fields) + ")" }
func (m *Invoke) String() string    { return "Invoke(" + formatCall(m.NetID, "", m.Func, m.Params) + ")" }
func (m *Broadcast) String() string { return fmt.Sprintf("Broadcast(%q, %d/%d)", m.Name, m.NumPlayers, m.MaxPlayers) }
func (f FieldValue) String() string { return fmt.Sprintf("%d=%v", f.Index, f.Value) }

func (m *Spawn) String() string {
	return fmt.Sprintf("Spawn(type=%d, net=%d, parent=%d, %q)", m.TypeID, m.NetID, m.ParentNetID, m.Name)
}

func (m *ReplicateContext) String() string {
	return "ReplicateContext(" + formatFields(m.NetID, m.Context, m.Fields) + ")"
}

func (m *InvokeContext) String() string {
	return "InvokeContext(" + formatCall(m.NetID, m.Context, m.Func, m.Params) + ")"
}

func formatFields(netID uint32, ctx string, fields []FieldValue) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "net=%d", netID)
	if ctx != "" {
		fmt.Fprintf(&sb, ", ctx=%q", ctx)
	}
	for _, f := range fields {
		sb.WriteString(", ")
		sb.WriteString(f.String())
	}
	return sb.String()
}

func formatCall(netID uint32, ctx string, fn uint16, params []Value) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "net=%d", netID)
	if ctx != "" {
		fmt.Fprintf(&sb, ", ctx=%q", ctx)
	}
	fmt.Fprintf(&sb, ", func=%d", fn)
	for _, p := range params {
		sb.WriteString(", ")
		sb.WriteString(p.String())
	}
	return sb.String()
}
