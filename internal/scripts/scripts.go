// Package scripts uploads shell scripts to emulated nodes and executes
// them over their consoles. The console is the only transport into
// these nodes, so uploads are spelled as heredoc writes and results are
// judged by sentinel-carried exit codes.
package scripts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/console"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/metrics"
)

const (
	// DefaultShell interprets uploaded scripts when none is given.
	DefaultShell = "sh"
	// DefaultRunTimeout bounds a script execution's read window.
	DefaultRunTimeout = 10 * time.Second
	// DefaultConcurrency is the batch fan-out used when a request does
	// not choose one.
	DefaultConcurrency = 5
)

// Task is one script upload bound to a resolved console target. Content
// is the script body; reading it off disk is the caller's concern.
type Task struct {
	NodeName       string
	Host           string
	Port           int
	Content        []byte
	RemotePath     string
	RunAfterUpload bool
	Executable     bool
	Overwrite      bool
	RunTimeout     time.Duration
	Shell          string
}

func (t Task) withDefaults() Task {
	if t.Shell == "" {
		t.Shell = DefaultShell
	}
	if t.RunTimeout <= 0 {
		t.RunTimeout = DefaultRunTimeout
	}
	return t
}

// RunTask is one execution of an already-uploaded script.
type RunTask struct {
	NodeName   string
	Host       string
	Port       int
	RemotePath string
	Shell      string
	Timeout    time.Duration
}

func (t RunTask) withDefaults() RunTask {
	if t.Shell == "" {
		t.Shell = DefaultShell
	}
	if t.Timeout <= 0 {
		t.Timeout = DefaultRunTimeout
	}
	return t
}

// Upload reports one upload attempt. Skipped uploads are successful:
// the file was already in place and overwriting was disabled.
type Upload struct {
	NodeName   string    `json:"node_name"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	RemotePath string    `json:"remote_path"`
	Success    bool      `json:"success"`
	Skipped    bool      `json:"skipped"`
	Reason     string    `json:"reason,omitempty"`
	Output     string    `json:"output"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Execution reports one script run. ExitCode is nil when the completion
// marker never came back, which this call site treats as a failure: a
// script whose outcome cannot be confirmed did not succeed.
type Execution struct {
	NodeName   string    `json:"node_name"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	RemotePath string    `json:"remote_path"`
	Success    bool      `json:"success"`
	ExitCode   *int      `json:"exit_code"`
	Output     string    `json:"output"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PushResult pairs an upload with its optional run-after execution.
type PushResult struct {
	Upload    Upload     `json:"upload"`
	Execution *Execution `json:"execution"`
}

// Runner moves scripts onto nodes and runs them. The exported fields
// tune console behavior and are set to defaults by NewRunner.
type Runner struct {
	// Console tunes the sessions opened against node consoles.
	Console console.Settings
	// DrainWindow absorbs console noise around heredoc writes.
	DrainWindow time.Duration
	// ProbeWindow bounds the bookkeeping commands wrapped around an
	// upload (existence pre-check, chmod).
	ProbeWindow time.Duration

	logger *zap.Logger
}

// NewRunner returns a runner with stock console tuning.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Console:     console.DefaultSettings(),
		DrainWindow: time.Second,
		ProbeWindow: 2 * time.Second,
		logger:      logger,
	}
}

// Run executes a script on its node over a fresh console session. The
// failure mode is recorded in the result, never returned: callers batch
// these.
func (r *Runner) Run(ctx context.Context, task RunTask) Execution {
	task = task.withDefaults()

	var exec Execution
	err := console.WithSession(ctx, task.Host, task.Port, r.Console, func(s *console.Session) error {
		exec = r.runInSession(s, task)
		return nil
	})
	if err != nil {
		exec = Execution{
			NodeName:   task.NodeName,
			Host:       task.Host,
			Port:       task.Port,
			RemotePath: task.RemotePath,
			Error:      err.Error(),
			Timestamp:  time.Now().UTC(),
		}
		metrics.ScriptRunsTotal.WithLabelValues("failed").Inc()
		r.logger.Warn("script run failed",
			zap.String("node", task.NodeName), zap.Error(err))
	}
	return exec
}

// runInSession executes a script over an already-open session, shared
// by Run and the run-after-upload leg of Push.
func (r *Runner) runInSession(s *console.Session, task RunTask) Execution {
	exec := Execution{
		NodeName:   task.NodeName,
		Host:       task.Host,
		Port:       task.Port,
		RemotePath: task.RemotePath,
		Timestamp:  time.Now().UTC(),
	}

	command := task.Shell + " " + task.RemotePath
	output, code, err := s.RunCommandWithStatus(command, task.Timeout, "")
	exec.Output = output
	exec.ExitCode = code
	if err != nil {
		exec.Error = err.Error()
		metrics.ScriptRunsTotal.WithLabelValues("failed").Inc()
		return exec
	}

	switch {
	case code == nil:
		exec.Error = "exit status unknown: completion marker not observed"
		metrics.ScriptRunsTotal.WithLabelValues("failed").Inc()
	case *code != 0:
		exec.Error = fmt.Sprintf("script exited with status %d", *code)
		metrics.ScriptRunsTotal.WithLabelValues("failed").Inc()
	default:
		exec.Success = true
		metrics.ScriptRunsTotal.WithLabelValues("ok").Inc()
	}
	return exec
}

// Push writes a script onto its node and optionally runs it. One
// session covers the pre-check, the heredoc write, the chmod, and the
// run-after leg; console slots are scarce enough to make redialing per
// step wasteful.
func (r *Runner) Push(ctx context.Context, task Task) PushResult {
	task = task.withDefaults()
	upload := Upload{
		NodeName:   task.NodeName,
		Host:       task.Host,
		Port:       task.Port,
		RemotePath: task.RemotePath,
		Timestamp:  time.Now().UTC(),
	}

	var execution *Execution
	err := console.WithSession(ctx, task.Host, task.Port, r.Console, func(s *console.Session) error {
		_, _ = s.Read(r.DrainWindow)

		if !task.Overwrite {
			_, code, err := s.RunCommandWithStatus("test -e "+task.RemotePath, r.ProbeWindow, "")
			if err != nil {
				return err
			}
			// An inconclusive probe proceeds with the upload.
			if code != nil && *code == 0 {
				upload.Success = true
				upload.Skipped = true
				upload.Reason = "remote file already exists and overwrite is disabled"
			}
		}

		if !upload.Skipped {
			noise, err := r.writeHeredoc(s, task.RemotePath, task.Content)
			if err != nil {
				return err
			}

			// chmod doubles as the existence check: it fails when the
			// write never landed.
			verify := "test -e " + task.RemotePath
			if task.Executable {
				verify = "chmod +x " + task.RemotePath
			}
			out, code, err := s.RunCommandWithStatus(verify, r.ProbeWindow, "")
			if err != nil {
				return err
			}
			upload.Output = strings.TrimSpace(noise + out)
			switch {
			case code == nil:
				upload.Error = "upload verification inconclusive: completion marker not observed"
			case *code != 0:
				upload.Error = fmt.Sprintf("upload verification failed with status %d", *code)
			default:
				upload.Success = true
			}
		}

		// The script is on the node whether this call put it there or
		// found it already present, so a skipped upload still honors
		// run-after.
		if task.RunAfterUpload && upload.Success {
			exec := r.runInSession(s, RunTask{
				NodeName:   task.NodeName,
				Host:       task.Host,
				Port:       task.Port,
				RemotePath: task.RemotePath,
				Shell:      task.Shell,
				Timeout:    task.RunTimeout,
			})
			execution = &exec
		}
		return nil
	})
	if err != nil {
		upload.Error = err.Error()
		upload.Success = false
	}

	switch {
	case upload.Skipped:
		metrics.ScriptUploadsTotal.WithLabelValues("skipped").Inc()
	case upload.Success:
		metrics.ScriptUploadsTotal.WithLabelValues("ok").Inc()
	default:
		metrics.ScriptUploadsTotal.WithLabelValues("failed").Inc()
		r.logger.Warn("script upload failed",
			zap.String("node", task.NodeName),
			zap.String("remote_path", task.RemotePath),
			zap.String("error", upload.Error))
	}

	return PushResult{Upload: upload, Execution: execution}
}

// writeHeredoc streams the script body line by line between a cat
// redirect and a random end marker, then collects the echoed noise.
func (r *Runner) writeHeredoc(s *console.Session, remotePath string, content []byte) (string, error) {
	marker := heredocMarker()
	if err := s.Send(fmt.Sprintf("cat > %s <<'%s'", remotePath, marker)); err != nil {
		return "", err
	}

	body := strings.ReplaceAll(string(content), "\r\n", "\n")
	body = strings.TrimSuffix(body, "\n")
	for _, line := range strings.Split(body, "\n") {
		if err := s.Send(line); err != nil {
			return "", err
		}
	}
	if err := s.Send(marker); err != nil {
		return "", err
	}

	noise, err := s.ReadFor(r.DrainWindow)
	if err != nil {
		return noise, err
	}
	return noise, nil
}

// heredocMarker returns an end-of-document token that will not collide
// with script content.
func heredocMarker() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("__EOF_%s__", hex[:8])
}

// RunMany executes a batch of run tasks with bounded fan-out. Results
// line up with the tasks by index; per-node failures are recorded in
// place and never abort the batch.
func (r *Runner) RunMany(ctx context.Context, tasks []RunTask, concurrency int) []Execution {
	results := make([]Execution, len(tasks))

	var g errgroup.Group
	g.SetLimit(normalizeConcurrency(concurrency))
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = r.Run(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// PushMany uploads a batch of scripts with bounded fan-out, preserving
// task order in the results.
func (r *Runner) PushMany(ctx context.Context, tasks []Task, concurrency int) []PushResult {
	results := make([]PushResult, len(tasks))

	var g errgroup.Group
	g.SetLimit(normalizeConcurrency(concurrency))
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = r.Push(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func normalizeConcurrency(n int) int {
	if n < 1 {
		return DefaultConcurrency
	}
	return n
}
