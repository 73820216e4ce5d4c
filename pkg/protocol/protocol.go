// Package protocol defines the filedrop wire protocol shared by the server
// and the client.
//
// The protocol is line-oriented ASCII with length-prefixed binary payloads
// on the same stream:
//
//	Client → Server:
//	  LIST
//	  GET <filename>
//	  PUT <filename>\n<decimal-byte-count>\n<raw bytes>
//	  QUIT
//
//	Server → Client (per command, except QUIT which has none):
//	  OK\n<decimal-byte-count>\n<raw bytes>     (LIST, GET)
//	  OK                                        (PUT)
//	  ERR\n<message>
package protocol

// Command verbs.
const (
	CmdList = "LIST"
	CmdGet  = "GET"
	CmdPut  = "PUT"
	CmdQuit = "QUIT"
)

// Response status tokens.
const (
	StatusOK  = "OK"
	StatusErr = "ERR"
)

// Entry kinds reported by LIST.
const (
	KindFile  = "file"
	KindDir   = "dir"
	KindOther = "other"
)
