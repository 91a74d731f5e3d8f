// Package message implements the wire codec for the council protocol:
// a single newline-terminated text frame with six '|'-delimited fields.
package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the message variant tag.
type Type string

const (
	Prepare       Type = "PREPARE"
	Promise       Type = "PROMISE"
	AcceptRequest Type = "ACCEPT_REQUEST"
	Accepted      Type = "ACCEPTED"
	Decide        Type = "DECIDE"
	Reject        Type = "REJECT"
	Ack           Type = "ACK"
	Error         Type = "ERROR"
)

// Number is a proposal number: (counter, memberIndex), totally ordered
// first by counter then by memberIndex.
type Number struct {
	Counter   int64
	MemberIdx int
}

// MinNumber is the sentinel meaning "no proposal number".
var MinNumber = Number{Counter: -1, MemberIdx: -1}

// IsMin reports whether n is the sentinel MIN value.
func (n Number) IsMin() bool {
	return n == MinNumber
}

// Less reports whether n orders strictly before o.
func (n Number) Less(o Number) bool {
	if n.Counter != o.Counter {
		return n.Counter < o.Counter
	}
	return n.MemberIdx < o.MemberIdx
}

// GreaterOrEqual reports whether n orders at or after o.
func (n Number) GreaterOrEqual(o Number) bool {
	return !n.Less(o)
}

// Greater reports whether n orders strictly after o.
func (n Number) Greater(o Number) bool {
	return o.Less(n)
}

// String always renders the numeric form, including the MIN sentinel
// as "-1.-1" — whether a field is left empty on the wire instead is a
// property of the message variant, not of the Number value itself
// (see fieldUsage).
func (n Number) String() string {
	return fmt.Sprintf("%d.%d", n.Counter, n.MemberIdx)
}

func parseNumber(s string) (Number, error) {
	if s == "" {
		return MinNumber, nil
	}
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return Number{}, fmt.Errorf("message: malformed proposal number %q", s)
	}
	counter, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Number{}, fmt.Errorf("message: malformed proposal number %q: %w", s, err)
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil {
		return Number{}, fmt.Errorf("message: malformed proposal number %q: %w", s, err)
	}
	return Number{Counter: counter, MemberIdx: idx}, nil
}

// Message is a tagged record carrying the fields relevant to its Type.
// Fields unused by a variant are encoded as empty on the wire
// regardless of what they hold in memory; construct them as
// MinNumber/"" by convention so a value printed or compared in
// memory matches what went out.
type Message struct {
	Type      Type
	From      string
	N         Number
	Value     string
	AcceptedN Number
	AcceptedV string
}

// ErrMalformed is returned by Parse for any frame that does not have
// exactly six fields or carries an unknown Type token.
type ErrMalformed struct {
	Line   string
	Reason string
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("message: malformed frame %q: %s", e.Line, e.Reason)
}

var knownTypes = map[Type]bool{
	Prepare: true, Promise: true, AcceptRequest: true, Accepted: true,
	Decide: true, Reject: true, Ack: true, Error: true,
}

// usage records which of the n/value/acceptedN/acceptedV fields a
// variant actually carries. A field a variant doesn't use is always
// serialized empty, regardless of what the Message struct holds in
// it; a field it does use renders numerically even at MIN (see the
// PROMISE example in §6, whose unaccepted acceptedN prints "-1.-1"
// rather than "").
type usage struct {
	n, value, acceptedN, acceptedV bool
}

var fieldUsage = map[Type]usage{
	Prepare:       {n: true},
	Promise:       {n: true, acceptedN: true, acceptedV: true},
	AcceptRequest: {n: true, value: true},
	Accepted:      {n: true, value: true},
	Decide:        {value: true},
	Reject:        {n: true, value: true},
	Ack:           {},
	Error:         {value: true},
}

// Serialize renders m as a single line (without trailing newline).
func Serialize(m Message) string {
	u := fieldUsage[m.Type]

	n := ""
	if u.n {
		n = m.N.String()
	}
	value := ""
	if u.value {
		value = m.Value
	}
	acceptedN := ""
	if u.acceptedN {
		acceptedN = m.AcceptedN.String()
	}
	acceptedV := ""
	if u.acceptedV {
		acceptedV = m.AcceptedV
	}

	fields := []string{string(m.Type), m.From, n, value, acceptedN, acceptedV}
	return strings.Join(fields, "|")
}

// Parse decodes a single frame line (without its trailing newline).
// It fails with *ErrMalformed when the field count is not exactly six
// or the type token is unknown.
func Parse(line string) (Message, error) {
	fields := strings.Split(line, "|")
	if len(fields) != 6 {
		return Message{}, &ErrMalformed{Line: line, Reason: fmt.Sprintf("expected 6 fields, got %d", len(fields))}
	}

	typ := Type(fields[0])
	if !knownTypes[typ] {
		return Message{}, &ErrMalformed{Line: line, Reason: fmt.Sprintf("unknown type %q", fields[0])}
	}

	n, err := parseNumber(fields[2])
	if err != nil {
		return Message{}, &ErrMalformed{Line: line, Reason: err.Error()}
	}
	acceptedN, err := parseNumber(fields[4])
	if err != nil {
		return Message{}, &ErrMalformed{Line: line, Reason: err.Error()}
	}

	return Message{
		Type:      typ,
		From:      fields[1],
		N:         n,
		Value:     fields[3],
		AcceptedN: acceptedN,
		AcceptedV: fields[5],
	}, nil
}
