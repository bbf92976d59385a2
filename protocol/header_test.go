package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestPackSize(t *testing.T) {
	var size int32 = 65536
	var b = PackSize(size)
	if len(b) != SizeLen {
		t.Fatalf("PackSize: except: %d bytes, got: %d", SizeLen, len(b))
	}
	var got = ParseSize(b)
	if got != size {
		t.Fatalf("ParseSize: except: %d, got: %d", size, got)
	}
	if got := ParseSize(PackSize(0)); got != 0 {
		t.Fatalf("ParseSize: except: 0, got: %d", got)
	}
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader("RANK")
	if err != nil || h.Command != RANK {
		t.Fatalf("ParseHeader: except: RANK, got: %v (%v)", h, err)
	}
	h, err = ParseHeader("SIZE")
	if err != nil || h.Command != SIZE {
		t.Fatalf("ParseHeader: except: SIZE, got: %v (%v)", h, err)
	}
	h, err = ParseHeader("SEND 3")
	if err != nil || h.Command != SEND || h.Peer != 3 {
		t.Fatalf("ParseHeader: except: SEND 3, got: %v (%v)", h, err)
	}
	h, err = ParseHeader("RECV 0")
	if err != nil || h.Command != RECV || h.Peer != 0 {
		t.Fatalf("ParseHeader: except: RECV 0, got: %v (%v)", h, err)
	}
	h, err = ParseHeader("FINALIZE")
	if err != nil || h.Command != FINALIZE {
		t.Fatalf("ParseHeader: except: FINALIZE, got: %v (%v)", h, err)
	}
}

func TestParseHeaderMalformed(t *testing.T) {
	var bad = []string{
		"",
		"   ",
		"SEND",
		"SEND x",
		"SEND 1 2",
		"RECV",
		"RANK 1",
		"NOSUCH",
	}
	for _, line := range bad {
		if _, err := ParseHeader(line); err == nil {
			t.Fatalf("ParseHeader(%q): except error, got none", line)
		}
	}
}

func TestExtractLine(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("SEND 1\nhello")
	line, ok, err := ExtractLine(&buf)
	if err != nil || !ok || line != "SEND 1" {
		t.Fatalf("ExtractLine: except: SEND 1, got: %q ok=%v err=%v", line, ok, err)
	}
	if buf.String() != "hello" {
		t.Fatalf("ExtractLine: except remainder hello, got: %q", buf.String())
	}

	buf.Reset()
	buf.WriteString("RA")
	_, ok, err = ExtractLine(&buf)
	if ok || err != nil {
		t.Fatalf("ExtractLine: except incomplete, got ok=%v err=%v", ok, err)
	}
}

func TestExtractLineMaxLength(t *testing.T) {
	// exactly MaxHeaderLen including the newline is accepted
	var buf bytes.Buffer
	buf.WriteString(strings.Repeat("x", MaxHeaderLen-1) + "\n")
	line, ok, err := ExtractLine(&buf)
	if err != nil || !ok || len(line) != MaxHeaderLen-1 {
		t.Fatalf("ExtractLine: except %d byte line, got len=%d ok=%v err=%v",
			MaxHeaderLen-1, len(line), ok, err)
	}

	// one more byte with no newline in sight is rejected
	buf.Reset()
	buf.WriteString(strings.Repeat("x", MaxHeaderLen+1))
	_, _, err = ExtractLine(&buf)
	if err != ErrHeaderTooLong {
		t.Fatalf("ExtractLine: except ErrHeaderTooLong, got: %v", err)
	}
}
