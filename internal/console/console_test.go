package console

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startFakeConsole runs a TCP listener that hands each accepted
// connection to handler on its own goroutine.
func startFakeConsole(t *testing.T, handler func(net.Conn)) (string, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handler(conn)
		}
	}()

	return "127.0.0.1", ln.Addr().(*net.TCPAddr).Port
}

// readLine consumes bytes until the CR terminator the session appends.
func readLine(conn net.Conn) (string, error) {
	var b strings.Builder
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return b.String(), err
		}
		if buf[0] == '\r' {
			return b.String(), nil
		}
		b.WriteByte(buf[0])
	}
}

func testSettings() Settings {
	s := DefaultSettings()
	s.ConnectTimeout = 2 * time.Second
	s.PollInterval = 50 * time.Millisecond
	s.TrailingDrain = 50 * time.Millisecond
	return s
}

func TestRunCommand_CRFramedEcho(t *testing.T) {
	received := make(chan string, 1)
	host, port := startFakeConsole(t, func(conn net.Conn) {
		defer conn.Close()
		line, err := readLine(conn)
		if err != nil {
			return
		}
		received <- line
		_, _ = conn.Write([]byte("output for " + line + "\n"))
	})

	session, err := DialWithSettings(context.Background(), host, port, testSettings())
	require.NoError(t, err)
	defer session.Close()

	out, err := session.RunCommand("ip -4 addr show", 500*time.Millisecond)
	require.NoError(t, err)
	assert.Contains(t, out, "output for ip -4 addr show")
	assert.Equal(t, "ip -4 addr show", <-received)
}

func TestRunCommandWithStatus_SplitsOnLastSentinel(t *testing.T) {
	const sentinel = "__EXIT_t3st00__"

	host, port := startFakeConsole(t, func(conn net.Conn) {
		defer conn.Close()
		if _, err := readLine(conn); err != nil {
			return
		}
		// Echo of the wrapped command contains the token too; only the
		// final occurrence carries the status.
		script := "$ true; printf '" + sentinel + "%s\\n' $?\r\n" +
			"hello world\r\n" +
			sentinel + "0\r\n$ "
		_, _ = conn.Write([]byte(script))
	})

	session, err := DialWithSettings(context.Background(), host, port, testSettings())
	require.NoError(t, err)
	defer session.Close()

	out, code, err := session.RunCommandWithStatus("true", 500*time.Millisecond, sentinel)
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, 0, *code)
	assert.Contains(t, out, "hello world")
	assert.Equal(t, 1, strings.Count(out, sentinel), "echoed token must stay in the output")
}

func TestRunCommandWithStatus_NonZeroExit(t *testing.T) {
	const sentinel = "__EXIT_t3st01__"

	host, port := startFakeConsole(t, func(conn net.Conn) {
		defer conn.Close()
		if _, err := readLine(conn); err != nil {
			return
		}
		_, _ = conn.Write([]byte("sh: broken: not found\r\n" + sentinel + "127\r\n"))
	})

	session, err := DialWithSettings(context.Background(), host, port, testSettings())
	require.NoError(t, err)
	defer session.Close()

	_, code, err := session.RunCommandWithStatus("broken", 500*time.Millisecond, sentinel)
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, 127, *code)
}

func TestRunCommandWithStatus_UnknownExit(t *testing.T) {
	const sentinel = "__EXIT_t3st02__"

	testCases := []struct {
		name   string
		script string
	}{
		{"no sentinel", "command output without any marker\r\n"},
		{"garbage status", sentinel + "not-a-number\r\n"},
	}

	for _, tc := range testCases {
		host, port := startFakeConsole(t, func(conn net.Conn) {
			defer conn.Close()
			if _, err := readLine(conn); err != nil {
				return
			}
			_, _ = conn.Write([]byte(tc.script))
		})

		session, err := DialWithSettings(context.Background(), host, port, testSettings())
		require.NoError(t, err)

		_, code, err := session.RunCommandWithStatus("x", 300*time.Millisecond, sentinel)
		require.NoError(t, err, tc.name)
		assert.Nil(t, code, tc.name)
		session.Close()
	}
}

func TestRead_TimeoutIsEmptyNotError(t *testing.T) {
	host, port := startFakeConsole(t, func(conn net.Conn) {
		// Hold the connection open without writing anything.
		_, _ = io.Copy(io.Discard, conn)
	})

	session, err := DialWithSettings(context.Background(), host, port, testSettings())
	require.NoError(t, err)
	defer session.Close()

	out, err := session.Read(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestReadFor_CollectsAcrossPolls(t *testing.T) {
	host, port := startFakeConsole(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = conn.Write([]byte("first"))
		time.Sleep(150 * time.Millisecond)
		_, _ = conn.Write([]byte(" second"))
		time.Sleep(100 * time.Millisecond)
	})

	session, err := DialWithSettings(context.Background(), host, port, testSettings())
	require.NoError(t, err)
	defer session.Close()

	out, err := session.ReadFor(500 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "first second", out)
}

func TestClose_SendsExitAndNeverFails(t *testing.T) {
	received := make(chan string, 1)
	host, port := startFakeConsole(t, func(conn net.Conn) {
		defer conn.Close()
		line, _ := readLine(conn)
		received <- line
	})

	session, err := DialWithSettings(context.Background(), host, port, testSettings())
	require.NoError(t, err)

	session.Close()
	select {
	case line := <-received:
		assert.Equal(t, "exit", line)
	case <-time.After(time.Second):
		t.Fatal("fake console never saw the exit command")
	}

	// Closing twice is harmless, and a closed session refuses work.
	session.Close()
	err = session.Send("anything")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWithSession_ClosesOnErrorPath(t *testing.T) {
	closed := make(chan struct{})
	host, port := startFakeConsole(t, func(conn net.Conn) {
		defer conn.Close()
		// Drain until the client goes away.
		_, _ = io.Copy(io.Discard, conn)
		close(closed)
	})

	wantErr := assert.AnError
	err := WithSession(context.Background(), host, port, testSettings(), func(s *Session) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("session was not closed after the callback failed")
	}
}

func TestDial_Refused(t *testing.T) {
	// Grab a port that nothing is listening on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = DialWithSettings(context.Background(), "127.0.0.1", port, testSettings())
	assert.Error(t, err)
}

func TestRunSequence_ConcatenatesOutput(t *testing.T) {
	host, port := startFakeConsole(t, func(conn net.Conn) {
		defer conn.Close()
		for {
			line, err := readLine(conn)
			if err != nil {
				return
			}
			if _, err := conn.Write([]byte("[" + line + "]")); err != nil {
				return
			}
		}
	})

	steps := []Step{
		{Command: "dhclient -v -1", ReadFor: 200 * time.Millisecond},
		{Command: "ip -4 addr show", ReadFor: 200 * time.Millisecond},
	}
	out, err := RunSequence(context.Background(), host, port, steps, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Contains(t, out, "[dhclient -v -1]")
	assert.Contains(t, out, "[ip -4 addr show]")
	assert.Less(t, strings.Index(out, "[dhclient -v -1]"), strings.Index(out, "[ip -4 addr show]"))
}

func TestNewSentinel_Unique(t *testing.T) {
	a := NewSentinel()
	b := NewSentinel()

	assert.True(t, strings.HasPrefix(a, "__EXIT_"))
	assert.True(t, strings.HasSuffix(a, "__"))
	assert.NotEqual(t, a, b)
}
