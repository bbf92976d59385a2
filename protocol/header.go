package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxHeaderLen is the maximum length of a header line, including the
// terminating newline.
const MaxHeaderLen = 256

// MaxChunkSize is the largest chunk payload carried in a single
// transport message. The chunk size is an int32 on the wire, so any
// value up to 2 GiB would be legal; 64 KiB keeps per-connection
// buffers small.
const MaxChunkSize = 65536

// SizeLen is the encoded length of a chunk-size message.
const SizeLen = 4

// Header is a parsed client header line.
type Header struct {
	Command Command
	Peer    int
}

var ErrHeaderTooLong = errors.New("header line exceeded max length")

// ExtractLine removes one '\n'-terminated line from buf and returns it
// without the newline. If no full line is buffered yet, ok is false;
// in that case ErrHeaderTooLong is returned when buf already holds
// more than MaxHeaderLen bytes.
func ExtractLine(buf *bytes.Buffer) (line string, ok bool, err error) {
	b := buf.Bytes()
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		if buf.Len() > MaxHeaderLen {
			return "", false, ErrHeaderTooLong
		}
		return "", false, nil
	}
	line = string(b[:i])
	buf.Next(i + 1)
	return line, true, nil
}

// ParseHeader parses a header line (without its newline).
func ParseHeader(line string) (h Header, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		err = errors.New("empty header line")
		return
	}
	switch fields[0] {
	case "RANK", "SIZE", "FINALIZE":
		if len(fields) != 1 {
			err = fmt.Errorf("malformed %s header, expected '%s'",
				fields[0], fields[0])
			return
		}
		switch fields[0] {
		case "RANK":
			h.Command = RANK
		case "SIZE":
			h.Command = SIZE
		case "FINALIZE":
			h.Command = FINALIZE
		}
	case "SEND", "RECV":
		if len(fields) != 2 {
			err = fmt.Errorf("malformed %s header, expected '%s <RANK>'",
				fields[0], fields[0])
			return
		}
		peer, e := strconv.Atoi(fields[1])
		if e != nil {
			err = fmt.Errorf("malformed %s header, bad rank %q",
				fields[0], fields[1])
			return
		}
		if fields[0] == "SEND" {
			h.Command = SEND
		} else {
			h.Command = RECV
		}
		h.Peer = peer
	default:
		err = fmt.Errorf("unrecognized header command %q", fields[0])
	}
	return
}

// PackSize encodes a chunk size for the peer wire.
func PackSize(size int32) []byte {
	b := make([]byte, SizeLen)
	b[0] = byte((size >> 24) & 0xff)
	b[1] = byte((size >> 16) & 0xff)
	b[2] = byte((size >> 8) & 0xff)
	b[3] = byte((size >> 0) & 0xff)
	return b
}

// ParseSize decodes a chunk size from the peer wire.
func ParseSize(b []byte) int32 {
	return int32(b[0])<<24 | int32(b[1])<<16 | int32(b[2])<<8 | int32(b[3])
}
