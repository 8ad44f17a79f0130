package testutil

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// ConsoleServer is a scripted stand-in for a node's telnet console. Each
// accepted connection reads CR-terminated lines and answers them through
// the respond callback.
type ConsoleServer struct {
	ln net.Listener

	mu    sync.Mutex
	dials int
	lines []string
}

// StartConsoleServer launches a fake console on a loopback port. respond
// receives each received command line and returns the bytes to write
// back; an empty return writes nothing. A nil respond accepts commands
// silently.
func StartConsoleServer(t *testing.T, respond func(line string) string) *ConsoleServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start fake console: %v", err)
	}

	s := &ConsoleServer{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.dials++
			s.mu.Unlock()
			go s.serve(conn, respond)
		}
	}()

	return s
}

func (s *ConsoleServer) serve(conn net.Conn, respond func(string) string) {
	defer conn.Close()
	buf := make([]byte, 1)
	var line []byte
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
		switch buf[0] {
		case '\r':
			text := string(line)
			line = line[:0]
			s.mu.Lock()
			s.lines = append(s.lines, text)
			s.mu.Unlock()
			if respond != nil {
				if out := respond(text); out != "" {
					if _, err := conn.Write([]byte(out)); err != nil {
						return
					}
				}
			}
		case '\n':
			// Sessions frame with bare CR; tolerate CRLF anyway.
		default:
			line = append(line, buf[0])
		}
	}
}

// ShellResponder builds a respond callback that answers status-wrapped
// command lines the way a busybox shell would: the command's output,
// then the sentinel token with the exit code, then a prompt. Lines
// without the status wrapper (heredoc bodies, end markers) get no
// reply. handle receives the bare command and must be safe for
// concurrent calls.
func ShellResponder(handle func(cmd string) (out string, code int)) func(string) string {
	return func(line string) string {
		cmd, sentinel, ok := splitWrapped(line)
		if !ok {
			return ""
		}
		out, code := handle(cmd)
		reply := sentinel + strconv.Itoa(code) + "\r\n/ # "
		if out != "" {
			reply = out + "\r\n" + reply
		}
		return reply
	}
}

// splitWrapped recovers the bare command and sentinel token from a
// status-wrapped console line.
func splitWrapped(line string) (cmd, sentinel string, ok bool) {
	i := strings.LastIndex(line, "; printf '")
	if i < 0 {
		return "", "", false
	}
	rest := line[i+len("; printf '"):]
	j := strings.Index(rest, "%s")
	if j < 0 {
		return "", "", false
	}
	return line[:i], rest[:j], true
}

// Host returns the listen address.
func (s *ConsoleServer) Host() string { return "127.0.0.1" }

// Port returns the listen port.
func (s *ConsoleServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Dials reports how many connections the console has accepted.
func (s *ConsoleServer) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Lines returns every command line received so far, across connections.
func (s *ConsoleServer) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}
