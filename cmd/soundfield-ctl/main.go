package main

import (
	"encoding/json"
	"fmt"
	"os"

	"soundfield/internal/config"
	"soundfield/internal/server"
)

// ============================================================================
// soundfield-ctl - Command-line IPC Client
// ============================================================================
// Sends admin commands to a running soundfield-server via its Unix socket.
//
// Usage:
//   soundfield-ctl status
//   soundfield-ctl solo <client-id>
//   soundfield-ctl unsolo <client-id>
//
// Options:
//   -socket PATH    Unix domain socket path (default: $SOUNDFIELD_IPC_SOCKET
//                   or /tmp/soundfield.sock)
// ============================================================================

func main() {
	socketPath := config.GetEnv(config.EnvIPCSocket, config.DefaultConfig().IPC.SocketPath)

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var req server.IPCRequest

	switch args[0] {
	case "status":
		req = server.IPCRequest{Type: server.IPCStatus}

	case "solo", "unsolo":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: %s requires a client id\n", args[0])
			os.Exit(1)
		}
		typ := server.IPCSolo
		if args[0] == "unsolo" {
			typ = server.IPCUnsolo
		}
		req = server.NewClientRequest(typ, args[1])

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	resp, err := server.SendIPC(config.ExpandPath(socketPath), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if resp.Data != nil {
		out, err := json.MarshalIndent(resp.Data, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}
	fmt.Println("ok")
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `soundfield-ctl - Control a running soundfield-server via IPC

Usage:
  soundfield-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/soundfield.sock)

Commands:
  status                  Print connected clients, soloists and area
  solo <client-id>        Give a client a free soloist slot
  unsolo <client-id>      Return a soloist to the playing set
  help, -h, --help        Show this help message

Examples:
  soundfield-ctl status
  soundfield-ctl solo 6f1c0b9e-3a52-4d6e-9a43-2a8f1c2d7e10
  soundfield-ctl -socket /run/soundfield.sock unsolo 6f1c0b9e-3a52-4d6e-9a43-2a8f1c2d7e10
`)
}
