// Package proto implements the line-oriented wire protocol.
//
// Each request and each response is one line of UTF-8 text terminated by
// '\n'. Decode and Encode are pure functions: no I/O, no state, safe to call
// from any number of goroutines.
package proto

import "strings"

// CommandKind identifies the decoded request variant.
type CommandKind int

const (
	CmdUnknown CommandKind = iota
	CmdSet
	CmdGet
	CmdDelete
	CmdKeys
	CmdQuit
)

// String returns the lowercase command name, used as a metrics label.
func (k CommandKind) String() string {
	switch k {
	case CmdSet:
		return "set"
	case CmdGet:
		return "get"
	case CmdDelete:
		return "del"
	case CmdKeys:
		return "keys"
	case CmdQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Command is the structured form of one client request line.
type Command struct {
	Kind  CommandKind
	Key   string
	Value string
	Raw   string // original line, populated for CmdUnknown
}

// ResponseKind identifies the response variant.
type ResponseKind int

const (
	RespOK ResponseKind = iota
	RespValue
	RespNotFound
	RespKeyList
	RespError
	RespBye
)

// Response is the structured result of applying a Command, prior to wire
// encoding.
type Response struct {
	Kind ResponseKind
	Text string   // value for RespValue, message for RespError
	Keys []string // key list for RespKeyList
}

// OK reports a successful mutation.
func OK() Response { return Response{Kind: RespOK} }

// Value carries the value of a present key.
func Value(v string) Response { return Response{Kind: RespValue, Text: v} }

// NotFound reports a lookup miss.
func NotFound() Response { return Response{Kind: RespNotFound} }

// KeyList carries a snapshot of the store's keys. An empty list renders as
// EMPTY on the wire.
func KeyList(keys []string) Response { return Response{Kind: RespKeyList, Keys: keys} }

// Error carries a protocol-level error message.
func Error(msg string) Response { return Response{Kind: RespError, Text: msg} }

// Bye acknowledges QUIT; the server closes the connection after sending it.
func Bye() Response { return Response{Kind: RespBye} }

// Decode parses one request line (trailing newline already stripped) into a
// Command. A line is split into at most three fields so the value field may
// itself contain spaces. Keywords are matched case-sensitively, uppercase
// only. Anything that does not match the grammar, including an empty line,
// decodes to CmdUnknown carrying the raw line.
func Decode(line string) Command {
	parts := strings.SplitN(line, " ", 3)

	switch parts[0] {
	case "SET":
		if len(parts) == 3 {
			return Command{Kind: CmdSet, Key: parts[1], Value: parts[2]}
		}
	case "GET":
		if len(parts) == 2 {
			return Command{Kind: CmdGet, Key: parts[1]}
		}
	case "DEL":
		if len(parts) == 2 {
			return Command{Kind: CmdDelete, Key: parts[1]}
		}
	case "KEYS":
		if len(parts) == 1 {
			return Command{Kind: CmdKeys}
		}
	case "QUIT":
		if len(parts) == 1 {
			return Command{Kind: CmdQuit}
		}
	}

	return Command{Kind: CmdUnknown, Raw: line}
}

// Encode renders a Response as one wire line ending in exactly one '\n'.
func Encode(r Response) string {
	switch r.Kind {
	case RespOK:
		return "OK\n"
	case RespValue:
		return "VALUE " + r.Text + "\n"
	case RespNotFound:
		return "NOT_FOUND\n"
	case RespKeyList:
		if len(r.Keys) == 0 {
			return "EMPTY\n"
		}
		return "KEYS " + strings.Join(r.Keys, " ") + "\n"
	case RespError:
		return "ERROR " + r.Text + "\n"
	case RespBye:
		return "BYE\n"
	}
	panic("proto: invalid response kind")
}

// EncodeCommand renders a Command as one request line ending in '\n'. It is
// the inverse of Decode for well-formed commands and is used by clients and
// tests.
func EncodeCommand(c Command) string {
	switch c.Kind {
	case CmdSet:
		return "SET " + c.Key + " " + c.Value + "\n"
	case CmdGet:
		return "GET " + c.Key + "\n"
	case CmdDelete:
		return "DEL " + c.Key + "\n"
	case CmdKeys:
		return "KEYS\n"
	case CmdQuit:
		return "QUIT\n"
	}
	return c.Raw + "\n"
}
