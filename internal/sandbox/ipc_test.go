package sandbox

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := ipcRequest{RunID: "run-1", Token: "tok", Provider: "gmail", Tool: "search", Args: []byte(`{"query":"invoice"}`)}

	if err := writeFrame(&buf, want); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	var got ipcRequest
	if err := readFrame(bufio.NewReader(&buf), &got); err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if got.RunID != want.RunID || got.Token != want.Token || got.Provider != want.Provider || got.Tool != want.Tool {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if string(got.Args) != string(want.Args) {
		t.Fatalf("args mismatch: got %s, want %s", got.Args, want.Args)
	}
}

func TestFrameRoundTrip_MultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	a := ipcRequest{RunID: "r", Token: "t", Provider: "gmail", Tool: "search", Args: []byte(`{}`)}
	b := ipcRequest{RunID: "r", Token: "t", Provider: "slack", Tool: "post", Args: []byte(`{"channel":"x"}`)}
	if err := writeFrame(&buf, a); err != nil {
		t.Fatalf("writeFrame a: %v", err)
	}
	if err := writeFrame(&buf, b); err != nil {
		t.Fatalf("writeFrame b: %v", err)
	}

	r := bufio.NewReader(&buf)
	var gotA, gotB ipcRequest
	if err := readFrame(r, &gotA); err != nil {
		t.Fatalf("readFrame a: %v", err)
	}
	if err := readFrame(r, &gotB); err != nil {
		t.Fatalf("readFrame b: %v", err)
	}
	if gotA.Provider != "gmail" || gotB.Provider != "slack" {
		t.Fatalf("frames out of order: %+v then %+v", gotA, gotB)
	}
}

func TestReadFrame_RejectsOversizedLengthPrefix(t *testing.T) {
	var header [4]byte
	header[0], header[1], header[2], header[3] = 0xff, 0xff, 0xff, 0x7f
	r := bufio.NewReader(bytes.NewReader(header[:]))
	var v ipcRequest
	if err := readFrame(r, &v); err == nil {
		t.Fatal("expected readFrame to reject an oversized length prefix")
	}
}

func TestReadFrame_EOFOnEmptyStream(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(""))
	var v ipcRequest
	if err := readFrame(r, &v); err == nil {
		t.Fatal("expected readFrame to error on an empty stream")
	}
}
