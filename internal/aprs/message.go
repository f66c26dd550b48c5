// Package aprs implements the APRS message/bulletin information-field
// wire format layered on top of AX.25 UI frames: the BBS and the
// weather alert repeater both speak it.
package aprs

import (
	"fmt"
	"strings"
)

const addresseeWidth = 9

// DataType is the first byte of an APRS information field.
const (
	DataTypeMessage byte = ':'
)

// Message is a decoded APRS message/bulletin/ack packet: `:ADDRESSEE:text{id}`.
type Message struct {
	Addressee string
	Text      string
	ID        string // message ID for ack-tracking; empty if none was sent
	IsAck     bool
}

func padAddressee(addressee string) string {
	if len(addressee) > addresseeWidth {
		addressee = addressee[:addresseeWidth]
	}
	return addressee + strings.Repeat(" ", addresseeWidth-len(addressee))
}

// EncodeMessage builds the information-field bytes (without the leading
// AX.25 PID/control) for a message to addressee, with an optional
// message ID appended as `{id}` for ack-tracking.
func EncodeMessage(addressee, text, id string) []byte {
	if id != "" {
		return []byte(fmt.Sprintf(":%s:%s{%s}", padAddressee(addressee), text, id))
	}
	return []byte(fmt.Sprintf(":%s:%s", padAddressee(addressee), text))
}

// EncodeAck builds an acknowledgement packet `:ADDRESSEE:ackID`.
func EncodeAck(addressee, id string) []byte {
	return []byte(fmt.Sprintf(":%s:ack%s", padAddressee(addressee), id))
}

// EncodeBulletin builds a bulletin packet addressed to `BLNn` (n in
// 0..9) or `BLNnIDENT` for an identified bulletin.
func EncodeBulletin(n int, ident, text string) []byte {
	addressee := fmt.Sprintf("BLN%d", n%10)
	if ident != "" {
		addressee += ident
	}
	return []byte(fmt.Sprintf(":%s:%s", padAddressee(addressee), text))
}

// ParseMessage decodes an information field produced by EncodeMessage,
// EncodeAck, or EncodeBulletin.
func ParseMessage(info []byte) (Message, error) {
	if len(info) < 1+addresseeWidth+1 || info[0] != DataTypeMessage {
		return Message{}, fmt.Errorf("aprs: not a message packet")
	}
	if info[1+addresseeWidth] != ':' {
		return Message{}, fmt.Errorf("aprs: malformed addressee field")
	}
	addressee := strings.TrimRight(string(info[1:1+addresseeWidth]), " ")
	body := string(info[1+addresseeWidth+1:])

	if strings.HasPrefix(body, "ack") {
		return Message{Addressee: addressee, IsAck: true, ID: strings.TrimPrefix(body, "ack")}, nil
	}

	text := body
	id := ""
	if i := strings.LastIndex(body, "{"); i >= 0 {
		text = body[:i]
		id = strings.TrimSuffix(body[i+1:], "}")
	}
	return Message{Addressee: addressee, Text: text, ID: id}, nil
}
