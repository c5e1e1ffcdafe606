// Command diskqctl is a small operator CLI that talks to a running
// corelogd's control socket.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use: "diskqctl",
	Short: "Inspect and control a running corelogd over its control socket",
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/var/run/corelogd/control.sock", "path to the control UNIX socket")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// sendCommand dials socketPath, writes line as one command, and reads
// response lines until the "." sentinel.
func sendCommand(line string) ([]string, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}

	var out []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "." {
			return out, nil
		}
		out = append(out, text)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}
	return out, fmt.Errorf("connection closed before sentinel")
}

func printLines(lines []string) {
	for _, l := range lines {
		fmt.Println(l)
	}
}

func boolArg(arg string) (string, error) {
	switch strings.ToUpper(arg) {
	case "ON", "OFF":
		return strings.ToUpper(arg), nil
	default:
		return "", fmt.Errorf("expected ON or OFF, got %q", arg)
	}
}
