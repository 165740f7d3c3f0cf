// Package protocol defines the line-oriented frame format spoken between
// clients and the relay. Fields are separated by '|'; offset pairs use ','
// within ';'-separated groups and destination lists use ','.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ClientID identifies a connected client. IDs are assigned monotonically
// from 0 and never reused within a process lifetime.
type ClientID uint64

// Offset is one signed x,y placement for a stamp job.
type Offset struct {
	X int
	Y int
}

// Frame is one outbound protocol message queued for delivery to a client.
type Frame string

// Stop is the sentinel frame that terminates a client's write pump. It is
// never transmitted on the wire; every real frame starts with a frame tag
// followed by '|', so no delivered frame can collide with it.
const Stop Frame = "STOP"

// BroadcastDest is the MSG destination marker for "all other clients".
const BroadcastDest = "A"

// Kind tags a decoded inbound frame.
type Kind int

const (
	// KindMessage is MSG|dest|payload (broadcast or targeted)
	KindMessage Kind = iota
	// KindStamp is STAMP|icon|offsets|dests
	KindStamp
	// KindStampClear is STAMP_CLEAR
	KindStampClear
	// KindLeave is LEAVE or LEAVE|successor
	KindLeave
)

// Inbound is one decoded client frame. Which fields are meaningful depends
// on Kind.
type Inbound struct {
	Kind Kind

	// KindMessage
	Broadcast bool
	Dests     []ClientID
	Payload   string

	// KindStamp
	Icon    string
	Offsets []Offset

	// KindLeave
	HasSuccessor bool
	Successor    ClientID
}

// Decode parses one inbound line into a tagged variant. Any unrecognized
// leading token or field validation failure is an error, which is fatal to
// the originating session.
func Decode(line string) (*Inbound, error) {
	switch tag, _, _ := strings.Cut(line, "|"); tag {
	case "MSG":
		return decodeMessage(line)
	case "STAMP_CLEAR":
		if line != "STAMP_CLEAR" {
			return nil, fmt.Errorf("malformed STAMP_CLEAR frame: %q", line)
		}
		return &Inbound{Kind: KindStampClear}, nil
	case "STAMP":
		return decodeStamp(line)
	case "LEAVE":
		return decodeLeave(line)
	default:
		return nil, fmt.Errorf("unrecognized frame type: %q", line)
	}
}

func decodeMessage(line string) (*Inbound, error) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed MSG frame: %q", line)
	}
	dest, payload := parts[1], parts[2]

	if dest == BroadcastDest {
		return &Inbound{Kind: KindMessage, Broadcast: true, Payload: payload}, nil
	}

	dests, err := parseDestList(dest)
	if err != nil {
		return nil, fmt.Errorf("unrecognized MSG destination in %q: %w", line, err)
	}
	return &Inbound{Kind: KindMessage, Dests: dests, Payload: payload}, nil
}

func decodeStamp(line string) (*Inbound, error) {
	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("malformed STAMP frame: %q", line)
	}
	icon, rawOffsets, rawDests := parts[1], parts[2], parts[3]

	offsets, err := parseOffsets(rawOffsets)
	if err != nil {
		return nil, fmt.Errorf("invalid STAMP offset in %q: %w", line, err)
	}

	dests, err := parseDestList(rawDests)
	if err != nil {
		return nil, fmt.Errorf("unrecognized STAMP destination in %q: %w", line, err)
	}

	return &Inbound{Kind: KindStamp, Icon: icon, Offsets: offsets, Dests: dests}, nil
}

func decodeLeave(line string) (*Inbound, error) {
	if line == "LEAVE" {
		return &Inbound{Kind: KindLeave}, nil
	}
	rest, ok := strings.CutPrefix(line, "LEAVE|")
	if !ok {
		return nil, fmt.Errorf("malformed LEAVE frame: %q", line)
	}
	succ, err := parseClientID(rest)
	if err != nil {
		return nil, fmt.Errorf("invalid LEAVE successor in %q: %w", line, err)
	}
	return &Inbound{Kind: KindLeave, HasSuccessor: true, Successor: succ}, nil
}

func parseDestList(raw string) ([]ClientID, error) {
	tokens := strings.Split(raw, ",")
	dests := make([]ClientID, 0, len(tokens))
	for _, tok := range tokens {
		id, err := parseClientID(tok)
		if err != nil {
			return nil, err
		}
		dests = append(dests, id)
	}
	return dests, nil
}

func parseClientID(raw string) (ClientID, error) {
	if !isDigits(raw) {
		return 0, fmt.Errorf("non-numeric id %q", raw)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return ClientID(id), nil
}

// parseOffsets parses ";"-separated "x,y" pairs. The empty string is a
// valid empty offset list.
func parseOffsets(raw string) ([]Offset, error) {
	if raw == "" {
		return nil, nil
	}
	groups := strings.Split(raw, ";")
	offsets := make([]Offset, 0, len(groups))
	for _, group := range groups {
		coords := strings.Split(group, ",")
		if len(coords) != 2 {
			return nil, fmt.Errorf("offset %q must have exactly two coordinates", group)
		}
		x, err := parseCoord(coords[0])
		if err != nil {
			return nil, err
		}
		y, err := parseCoord(coords[1])
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, Offset{X: x, Y: y})
	}
	return offsets, nil
}

// parseCoord accepts an optionally '-'-prefixed digit string. A bare "+"
// prefix or surrounding whitespace is rejected.
func parseCoord(raw string) (int, error) {
	digits := strings.TrimPrefix(raw, "-")
	if !isDigits(digits) {
		return 0, fmt.Errorf("coordinate %q is not a signed integer", raw)
	}
	return strconv.Atoi(raw)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Outbound frame constructors.

// Welcome greets a newly registered client with its id and the full
// membership (including itself) in registration order.
func Welcome(id ClientID, members []ClientID) Frame {
	return Frame(fmt.Sprintf("WELCOME|%d|%s", id, joinIDs(members)))
}

// Join announces a new member to an existing client.
func Join(id ClientID) Frame {
	return Frame(fmt.Sprintf("JOIN|%d", id))
}

// Message wraps a relayed payload.
func Message(payload string) Frame {
	return Frame("MSG|" + payload)
}

// Leave announces a departure to a remaining client.
func Leave(id ClientID) Frame {
	return Frame(fmt.Sprintf("LEAVE|%d", id))
}

// Stamp announces a completed stamp job by output filename.
func Stamp(filename string) Frame {
	return Frame("STAMP|" + filename)
}

func joinIDs(ids []ClientID) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	return b.String()
}
