// Package sandbox is the Sandbox Runner (§4.5.2, §6.3, §6.4): it
// materializes an ephemeral sandbox_py package, spawns an isolated python3
// subprocess to run one submitted snippet with a hard wall-clock timeout,
// and serves the snippet's call_tool(...) calls over a length-prefixed JSON
// IPC channel back to the parent process's Tool Dispatcher.
//
// Grounded on internal/tools/sandbox/executor.go's workspace-then-subprocess
// shape and firecracker/vsock.go's length-prefixed framing
// (encoding/binary.LittleEndian over a stream), adapted from a vsock/Docker
// transport to a UNIX domain socket since this module's sandbox is a plain
// subprocess, not a VM or container.
package sandbox

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ipcRequest is one call_tool(...) round-trip request from the sandbox
// subprocess, per §6.3.
type ipcRequest struct {
	RunID    string          `json:"run_id"`
	Token    string          `json:"token"`
	Provider string          `json:"provider"`
	Tool     string          `json:"tool"`
	Args     json.RawMessage `json:"args"`
}

// maxFrameBytes bounds a single IPC frame so a misbehaving or compromised
// sandbox subprocess can't OOM the parent by claiming an enormous length
// prefix.
const maxFrameBytes = 16 << 20

// writeFrame writes v as a 4-byte little-endian length prefix followed by
// its JSON encoding, mirroring vsock.go's framing.
func writeFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// readFrame reads one length-prefixed frame from r and unmarshals it into v.
func readFrame(r *bufio.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length > maxFrameBytes {
		return fmt.Errorf("ipc: frame of %d bytes exceeds %d byte limit", length, maxFrameBytes)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
