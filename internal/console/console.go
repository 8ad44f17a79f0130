// Package console drives serial/telnet node consoles over TCP. The
// consoles are line-oriented and prompt-less: input is CR-terminated,
// there is no end-of-output marker, and command completion can only be
// detected by wrapping commands with a sentinel that carries the exit
// status back through the stream.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/metrics"
)

// ErrNotConnected is returned when a session is used before Dial or after
// Close.
var ErrNotConnected = errors.New("console session not connected")

// Settings carries the per-session tuning knobs. The zero value is not
// usable; start from DefaultSettings.
type Settings struct {
	ConnectTimeout time.Duration
	Newline        string
	ReadChunkSize  int
	PollInterval   time.Duration
	// TrailingDrain is the short window read after a sentinel match to
	// absorb shell-prompt noise.
	TrailingDrain time.Duration
}

// DefaultSettings returns the stock console tuning.
func DefaultSettings() Settings {
	return Settings{
		ConnectTimeout: 10 * time.Second,
		Newline:        "\r",
		ReadChunkSize:  1024,
		PollInterval:   500 * time.Millisecond,
		TrailingDrain:  200 * time.Millisecond,
	}
}

// Session owns one console connection to one node. A session moves
// closed -> open -> closed; there is no reconnect, and it is not safe for
// concurrent use. Callers that need retries open a new session.
type Session struct {
	conn     net.Conn
	settings Settings
	filter   telnetFilter
}

// Dial opens a console session with default settings.
func Dial(ctx context.Context, host string, port int) (*Session, error) {
	return DialWithSettings(ctx, host, port, DefaultSettings())
}

// DialWithSettings opens a console session. The connect attempt is bounded
// by both the context and the configured connect timeout; on failure the
// session never existed and there is nothing to close.
func DialWithSettings(ctx context.Context, host string, port int, settings Settings) (*Session, error) {
	dialer := net.Dialer{Timeout: settings.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		metrics.ConsoleDialsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dial console %s:%d: %w", host, port, err)
	}
	metrics.ConsoleDialsTotal.WithLabelValues("ok").Inc()
	return &Session{conn: conn, settings: settings}, nil
}

// Send writes the text followed by the console's line terminator. The
// emulated consoles expect CR framing, not LF.
func (s *Session) Send(text string) error {
	return s.send(text, true)
}

func (s *Session) send(text string, newline bool) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	payload := text
	if newline {
		payload += s.settings.Newline
	}
	if _, err := s.conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("console write: %w", err)
	}
	return nil
}

// Read performs one bounded read. A timeout returns an empty string and no
// error: an idle console is an expected condition, not a failure. EOF and
// transport errors are returned along with whatever data preceded them.
func (s *Session) Read(timeout time.Duration) (string, error) {
	if s.conn == nil {
		return "", ErrNotConnected
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("console read deadline: %w", err)
	}
	buf := make([]byte, s.settings.ReadChunkSize)
	n, err := s.conn.Read(buf)

	var out string
	if n > 0 {
		data, reply := s.filter.process(buf[:n])
		if len(reply) > 0 {
			// Negotiation refusals are best effort.
			_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_, _ = s.conn.Write(reply)
			_ = s.conn.SetWriteDeadline(time.Time{})
		}
		out = string(data)
	}
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return out, nil
		}
		return out, err
	}
	return out, nil
}

// ReadFor polls Read until a wall-clock deadline elapses, concatenating
// every chunk received. There is no reliable end-of-output marker on these
// consoles, so callers size the window to the expected command duration.
// EOF ends the window early with the data collected so far.
func (s *Session) ReadFor(duration time.Duration) (string, error) {
	deadline := time.Now().Add(duration)
	var b strings.Builder
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return b.String(), nil
		}
		timeout := s.settings.PollInterval
		if remaining < timeout {
			timeout = remaining
		}
		chunk, err := s.Read(timeout)
		b.WriteString(chunk)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return b.String(), nil
			}
			return b.String(), err
		}
	}
}

// RunCommand sends a command and listens for the given window.
func (s *Session) RunCommand(command string, readFor time.Duration) (string, error) {
	start := time.Now()
	defer func() {
		metrics.ConsoleCommandsTotal.Inc()
		metrics.ConsoleCommandSeconds.Observe(time.Since(start).Seconds())
	}()

	if err := s.Send(command); err != nil {
		return "", err
	}
	return s.ReadFor(readFor)
}

// RunCommandWithStatus runs a command wrapped so the remote shell emits a
// sentinel plus its exit status on completion. The captured text is split
// on the last occurrence of the sentinel, tolerating the token also
// appearing in the command's own echo. A nil exit code means the sentinel
// never arrived or its status did not parse, which callers treat as
// "unknown", not as an error. An empty sentinel selects a fresh random
// one.
func (s *Session) RunCommandWithStatus(command string, readFor time.Duration, sentinel string) (string, *int, error) {
	if sentinel == "" {
		sentinel = NewSentinel()
	}
	start := time.Now()
	defer func() {
		metrics.ConsoleCommandsTotal.Inc()
		metrics.ConsoleCommandSeconds.Observe(time.Since(start).Seconds())
	}()

	wrapped := fmt.Sprintf("%s; printf '%s%%s\\n' $?", command, sentinel)
	if err := s.Send(wrapped); err != nil {
		return "", nil, err
	}
	raw, err := s.ReadFor(readFor)
	if err != nil {
		return raw, nil, err
	}

	output := raw
	var exitCode *int
	if i := strings.LastIndex(raw, sentinel); i >= 0 {
		output = raw[:i]
		line := raw[i+len(sentinel):]
		if j := strings.IndexAny(line, "\r\n"); j >= 0 {
			line = line[:j]
		}
		if n, perr := strconv.Atoi(strings.TrimSpace(line)); perr == nil {
			exitCode = &n
		}
	}

	// Absorb trailing prompt characters after the marker.
	_, _ = s.ReadFor(s.settings.TrailingDrain)
	return output, exitCode, nil
}

// Close sends "exit" to free the console slot and closes the transport.
// Console slots on the platform are scarce and often serialized, so the
// exit is worth attempting, but close runs on cleanup paths and must never
// fail: every error is swallowed.
func (s *Session) Close() {
	s.CloseWith("exit")
}

// CloseWith is Close with a caller-chosen exit command; empty skips it.
func (s *Session) CloseWith(exitCommand string) {
	if s.conn == nil {
		return
	}
	if exitCommand != "" {
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = s.conn.Write([]byte(exitCommand + s.settings.Newline))
	}
	_ = s.conn.Close()
	s.conn = nil
}

// WithSession dials the target, runs fn, and guarantees the session is
// closed on every exit path, including panics inside fn.
func WithSession(ctx context.Context, host string, port int, settings Settings, fn func(*Session) error) error {
	session, err := DialWithSettings(ctx, host, port, settings)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session)
}

// Run opens a session for a single command and closes it afterwards.
func Run(ctx context.Context, host string, port int, command string, readFor time.Duration) (string, error) {
	var output string
	err := WithSession(ctx, host, port, DefaultSettings(), func(s *Session) error {
		var runErr error
		output, runErr = s.RunCommand(command, readFor)
		return runErr
	})
	return output, err
}

// Step is one command in a sequence along with its listening window.
type Step struct {
	Command string
	ReadFor time.Duration
}

// RunSequence runs commands in order over one session with a fixed delay
// between them, returning the concatenated output of all steps.
func RunSequence(ctx context.Context, host string, port int, steps []Step, interCommandDelay time.Duration) (string, error) {
	var b strings.Builder
	err := WithSession(ctx, host, port, DefaultSettings(), func(s *Session) error {
		for _, step := range steps {
			out, runErr := s.RunCommand(step.Command, step.ReadFor)
			b.WriteString(out)
			if runErr != nil {
				return runErr
			}
			if interCommandDelay > 0 {
				if err := sleepCtx(ctx, interCommandDelay); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return b.String(), err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
