package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/taskrun/plannerd/pkg/models"
)

// GeneratePackage materializes the ephemeral sandbox_py package under root
// (§4.5.2): client.py plus one servers/<provider>/__init__.py per provider
// advertised by idx, each exposing one async wrapper per tool that performs
// an IPC round-trip via call_tool(...). The caller deletes root at task end
// regardless of outcome.
func GeneratePackage(root string, idx *models.ToolIndex) error {
	pkgDir := filepath.Join(root, "sandbox_py")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(pkgDir, "__init__.py"), ""); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(pkgDir, "client.py"), clientPy); err != nil {
		return err
	}

	serversDir := filepath.Join(pkgDir, "servers")
	if err := os.MkdirAll(serversDir, 0o755); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(serversDir, "__init__.py"), ""); err != nil {
		return err
	}

	for _, provider := range sortedProviderIDs(idx) {
		dir := filepath.Join(serversDir, provider)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}

		var sb strings.Builder
		sb.WriteString("from .. import client\n\n")
		names := append([]string(nil), idx.ProvidersByID[provider]...)
		sort.Strings(names)
		for _, name := range names {
			spec, ok := idx.Get(provider + "." + name)
			if !ok {
				continue
			}
			writeWrapper(&sb, provider, spec)
		}
		if err := writeFile(filepath.Join(dir, "__init__.py"), sb.String()); err != nil {
			return err
		}
	}
	return nil
}

func sortedProviderIDs(idx *models.ToolIndex) []string {
	providers := make([]string, 0, len(idx.ProvidersByID))
	for p := range idx.ProvidersByID {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// writeWrapper emits one async def <tool>(...) function whose signature
// matches the tool's exposed (tenant-context-excluded) parameters and whose
// body forwards to client.call_tool.
func writeWrapper(sb *strings.Builder, provider string, spec models.ToolSpec) {
	var params, argPairs []string
	for _, p := range spec.Params {
		if p.Required {
			params = append(params, p.Name)
		} else {
			def := p.Default
			if def == "" {
				def = "None"
			}
			params = append(params, fmt.Sprintf("%s=%s", p.Name, def))
		}
		argPairs = append(argPairs, fmt.Sprintf("%q: %s", p.Name, p.Name))
	}

	doc := strings.ReplaceAll(strings.ReplaceAll(spec.Description, "\n", " "), `"""`, "'''")
	sb.WriteString(fmt.Sprintf("async def %s(%s):\n", spec.Name, strings.Join(params, ", ")))
	sb.WriteString(fmt.Sprintf("    \"\"\"%s\"\"\"\n", doc))
	sb.WriteString(fmt.Sprintf("    return await client.call_tool(%q, %q, {%s})\n\n", provider, spec.Name, strings.Join(argPairs, ", ")))
}

const clientPy = `"""Generated IPC client for sandboxed tool calls."""
import json
import os
import socket
import struct


def _connect():
    path = os.environ["PLANNERD_IPC_SOCKET"]
    sock = socket.socket(socket.AF_UNIX, socket.SOCK_STREAM)
    sock.connect(path)
    return sock


def _send_frame(sock, obj):
    body = json.dumps(obj).encode("utf-8")
    sock.sendall(struct.pack("<I", len(body)) + body)


def _recv_exact(sock, n):
    buf = b""
    while len(buf) < n:
        chunk = sock.recv(n - len(buf))
        if not chunk:
            raise ConnectionError("sandbox ipc connection closed early")
        buf += chunk
    return buf


def _recv_frame(sock):
    header = _recv_exact(sock, 4)
    (length,) = struct.unpack("<I", header)
    return json.loads(_recv_exact(sock, length))


async def call_tool(provider, name, args):
    sock = _connect()
    try:
        _send_frame(sock, {
            "run_id": os.environ["PLANNERD_RUN_ID"],
            "token": os.environ["PLANNERD_IPC_TOKEN"],
            "provider": provider,
            "tool": name,
            "args": args,
        })
        return _recv_frame(sock)
    finally:
        sock.close()
`
