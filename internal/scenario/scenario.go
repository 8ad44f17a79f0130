// Package scenario drives prepared GNS3 projects end to end: open the
// project, bring every node to started, then fire the boot scripts that
// turn a static topology into a live exercise. Infrastructure scripts
// (DHCP, servers) run before client scripts so clients find their
// services up.
package scenario

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/console"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/gns3"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/metrics"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/nodes"
)

const (
	// DefaultDHCPScript boots DHCP service nodes.
	DefaultDHCPScript = "/usr/local/bin/run_dhcp.sh"
	// DefaultServerScript boots application server nodes.
	DefaultServerScript = "/usr/local/bin/run_server.sh"
	// DefaultClientScript starts client traffic generators.
	DefaultClientScript = "/usr/local/bin/run_http2.sh"
	// DefaultShell wraps each script invocation.
	DefaultShell = "/bin/sh"

	DefaultRunTimeout        = 120 * time.Second
	DefaultRunConcurrency    = 16
	DefaultServerConcurrency = 5
	DefaultOpenTimeout       = 120 * time.Second
	DefaultOpenPollInterval  = 2 * time.Second
	DefaultStartTimeout      = 180 * time.Second
	DefaultStartPollInterval = 2 * time.Second
)

// Scripts holds the remote script path for each node role.
type Scripts struct {
	DHCP   string
	Server string
	Client string
}

// DefaultScripts returns the stock in-container script locations.
func DefaultScripts() Scripts {
	return Scripts{
		DHCP:   DefaultDHCPScript,
		Server: DefaultServerScript,
		Client: DefaultClientScript,
	}
}

// Options tunes one scenario execution. The zero value selects all
// defaults.
type Options struct {
	// Scripts are the remote paths run per node role.
	Scripts Scripts
	// Shell wraps each script invocation; empty selects /bin/sh.
	Shell string
	// RunTimeout bounds each script's console read window. Long-running
	// daemon scripts may exceed it without failing: an absent exit
	// status is tolerated here.
	RunTimeout time.Duration
	// RunConcurrency bounds simultaneous consoles within one phase.
	RunConcurrency int
	// ServerConcurrency bounds simultaneous GNS3 servers in RunAcross.
	ServerConcurrency int

	OpenTimeout       time.Duration
	OpenPollInterval  time.Duration
	StartTimeout      time.Duration
	StartPollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Scripts.DHCP == "" {
		o.Scripts.DHCP = DefaultDHCPScript
	}
	if o.Scripts.Server == "" {
		o.Scripts.Server = DefaultServerScript
	}
	if o.Scripts.Client == "" {
		o.Scripts.Client = DefaultClientScript
	}
	if o.Shell == "" {
		o.Shell = DefaultShell
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = DefaultRunTimeout
	}
	if o.RunConcurrency <= 0 {
		o.RunConcurrency = DefaultRunConcurrency
	}
	if o.ServerConcurrency <= 0 {
		o.ServerConcurrency = DefaultServerConcurrency
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	if o.OpenPollInterval <= 0 {
		o.OpenPollInterval = DefaultOpenPollInterval
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = DefaultStartTimeout
	}
	if o.StartPollInterval <= 0 {
		o.StartPollInterval = DefaultStartPollInterval
	}
	return o
}

// PlatformClient is the slice of the GNS3 API a scenario run needs.
type PlatformClient interface {
	OpenProject(ctx context.Context, projectID string) error
	GetProject(ctx context.Context, projectID string) (*gns3.Project, error)
	ListNodes(ctx context.Context, projectID string) ([]gns3.Node, error)
	StartAllNodes(ctx context.Context, projectID string) error
	StartNode(ctx context.Context, projectID, nodeID string) error
}

var _ PlatformClient = (*gns3.Client)(nil)

// Report summarizes a multi-server run. A server that fails is skipped
// with a warning; the others complete on their own.
type Report struct {
	Targets  []string `json:"targets"`
	Warnings []string `json:"warnings"`
}

// Runner executes scenarios. newClient builds a platform client for a
// given GNS3 server address and is only needed by RunAcross.
type Runner struct {
	// Console tunes the sessions opened for script runs.
	Console console.Settings

	newClient func(serverIP string) PlatformClient
	logger    *zap.Logger
}

// NewRunner returns a scenario runner. newClient may be nil when only
// RunProject is used.
func NewRunner(newClient func(serverIP string) PlatformClient, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Console:   console.DefaultSettings(),
		newClient: newClient,
		logger:    logger,
	}
}

// nodeRun is one script execution bound to a resolved console.
type nodeRun struct {
	name    string
	host    string
	port    int
	command string
}

// RunProject executes the scenario against one GNS3 server: open the
// project, start every node, then run the role scripts in two phases.
// Any failure aborts this server's run; sibling servers in RunAcross
// are unaffected.
func (r *Runner) RunProject(ctx context.Context, client PlatformClient, projectID, serverIP string, opts Options) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.ScenarioRunsTotal.WithLabelValues(outcome).Inc()
	}()

	opts = opts.withDefaults()
	logger := r.logger.With(zap.String("server", serverIP), zap.String("project_id", projectID))

	if err := r.openProject(ctx, client, projectID, opts); err != nil {
		return err
	}

	listed, err := client.ListNodes(ctx, projectID)
	if err != nil {
		return err
	}
	logger.Info("project opened", zap.Int("nodes", len(listed)))

	started, err := r.ensureStarted(ctx, client, projectID, listed, opts, logger)
	if err != nil {
		return err
	}

	byName := make(map[string]gns3.Node, len(started))
	for _, n := range started {
		name := strings.TrimSpace(n.Name)
		if name == "" || n.NodeID == "" {
			continue
		}
		byName[name] = n
	}

	toRun := func(name, script string) (nodeRun, error) {
		node, ok := byName[name]
		if !ok {
			return nodeRun{}, fmt.Errorf("node lookup failed for %q on %s", name, serverIP)
		}
		target, ok := nodes.ResolveTarget(node.Console, serverIP, node.ConsoleHost)
		if !ok {
			return nodeRun{}, fmt.Errorf("node %q has no telnet console to run scripts", name)
		}
		return nodeRun{name: name, host: target.Host, port: target.Port, command: script}, nil
	}

	dhcpNames, serverNames, clientNames := CategorizeNodes(started)

	var serverRuns []nodeRun
	for _, name := range dhcpNames {
		run, err := toRun(name, opts.Scripts.DHCP)
		if err != nil {
			return err
		}
		serverRuns = append(serverRuns, run)
	}
	for _, name := range serverNames {
		run, err := toRun(name, opts.Scripts.Server)
		if err != nil {
			return err
		}
		serverRuns = append(serverRuns, run)
	}
	var clientRuns []nodeRun
	for _, name := range clientNames {
		run, err := toRun(name, opts.Scripts.Client)
		if err != nil {
			return err
		}
		clientRuns = append(clientRuns, run)
	}

	if err := r.runPhase(ctx, "server", serverRuns, opts, logger); err != nil {
		return err
	}
	if err := r.runPhase(ctx, "client", clientRuns, opts, logger); err != nil {
		return err
	}
	return nil
}

// RunAcross executes the scenario on every listed GNS3 server with
// bounded fan-out. A failing server is reported as a warning and never
// stops the others.
func (r *Runner) RunAcross(ctx context.Context, serverIPs []string, projectID string, opts Options) Report {
	opts = opts.withDefaults()

	var mu sync.Mutex
	var warnings []string

	var g errgroup.Group
	g.SetLimit(phaseLimit(opts.ServerConcurrency, len(serverIPs)))
	for _, ip := range serverIPs {
		g.Go(func() error {
			r.logger.Info("processing gns3 server",
				zap.String("server", ip), zap.String("project_id", projectID))
			client := r.newClient(ip)
			if err := r.RunProject(ctx, client, projectID, ip, opts); err != nil {
				r.logger.Warn("skipping gns3 server",
					zap.String("server", ip), zap.Error(err))
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("[WARN] Skipping GNS3 server %s: %v", ip, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return Report{Targets: serverIPs, Warnings: warnings}
}

// openProject asks the controller to open the project and polls until it
// reports opened.
func (r *Runner) openProject(ctx context.Context, client PlatformClient, projectID string, opts Options) error {
	if err := client.OpenProject(ctx, projectID); err != nil {
		return err
	}
	deadline := time.Now().Add(opts.OpenTimeout)
	for {
		project, err := client.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if strings.EqualFold(project.Status, "opened") {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("project %s did not open within timeout", projectID)
		}
		if err := sleepCtx(ctx, opts.OpenPollInterval); err != nil {
			return err
		}
	}
}

// ensureStarted brings every node to started and returns the refreshed
// node list. Bulk start is attempted first when more than one node is
// pending; controllers without the bulk endpoint fall back to per-node
// starts.
func (r *Runner) ensureStarted(ctx context.Context, client PlatformClient, projectID string, listed []gns3.Node, opts Options, logger *zap.Logger) ([]gns3.Node, error) {
	var pending []gns3.Node
	for _, n := range listed {
		if !strings.EqualFold(n.Status, "started") && n.NodeID != "" {
			pending = append(pending, n)
		}
	}

	if len(pending) > 0 {
		bulkStarted := false
		if len(pending) > 1 {
			err := client.StartAllNodes(ctx, projectID)
			switch {
			case err == nil:
				bulkStarted = true
			case gns3.IsStatus(err, 404, 405, 501):
				logger.Info("bulk start not supported, starting nodes one by one")
			default:
				return nil, err
			}
		}
		if !bulkStarted {
			for _, n := range pending {
				logger.Info("starting node",
					zap.String("name", nameOrID(n)), zap.String("node_id", n.NodeID))
				if err := client.StartNode(ctx, projectID, n.NodeID); err != nil {
					return nil, err
				}
			}
		}
	}

	deadline := time.Now().Add(opts.StartTimeout)
	for {
		refreshed, err := client.ListNodes(ctx, projectID)
		if err != nil {
			return nil, err
		}
		var remaining []string
		for _, n := range refreshed {
			if !strings.EqualFold(n.Status, "started") {
				remaining = append(remaining, nameOrID(n))
			}
		}
		if len(remaining) == 0 {
			return refreshed, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("nodes failed to reach started state: %s", strings.Join(remaining, ", "))
		}
		if err := sleepCtx(ctx, opts.StartPollInterval); err != nil {
			return nil, err
		}
	}
}

// runPhase fires one role's scripts with bounded concurrency. The first
// failure is returned after the in-flight runs finish, and it aborts the
// following phase.
func (r *Runner) runPhase(ctx context.Context, label string, runs []nodeRun, opts Options, logger *zap.Logger) error {
	if len(runs) == 0 {
		logger.Info("no scripts to run", zap.String("phase", label))
		return nil
	}
	logger.Info("running scripts", zap.String("phase", label), zap.Int("nodes", len(runs)))

	var g errgroup.Group
	g.SetLimit(phaseLimit(opts.RunConcurrency, len(runs)))
	for _, run := range runs {
		g.Go(func() error {
			return r.runScript(ctx, run, opts)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("completed scripts", zap.String("phase", label))
	return nil
}

// runScript runs one boot script over the node's console. Many of these
// scripts start daemons and never exit inside the read window, so only
// an explicit non-zero status counts as failure; an absent status is
// taken as still-running.
func (r *Runner) runScript(ctx context.Context, run nodeRun, opts Options) error {
	command := run.command
	if opts.Shell != "" {
		command = opts.Shell + " -c " + quoteShellArg(run.command)
	}
	return console.WithSession(ctx, run.host, run.port, r.Console, func(s *console.Session) error {
		output, code, err := s.RunCommandWithStatus(command, opts.RunTimeout, "")
		if err != nil {
			return err
		}
		if code != nil && *code != 0 {
			return fmt.Errorf("script command failed on %s (exit %d), output:\n%s",
				run.name, *code, strings.TrimSpace(output))
		}
		return nil
	})
}

// CategorizeNodes splits nodes into scenario roles by name prefix.
// Nodes outside the three role prefixes carry no boot script and are
// left alone.
func CategorizeNodes(list []gns3.Node) (dhcp, servers, clients []string) {
	for _, n := range list {
		name := strings.TrimSpace(n.Name)
		if name == "" {
			continue
		}
		lowered := strings.ToLower(name)
		switch {
		case strings.HasPrefix(lowered, "dhcp-"):
			dhcp = append(dhcp, name)
		case strings.HasPrefix(lowered, "server-"):
			servers = append(servers, name)
		case strings.HasPrefix(lowered, "client-"):
			clients = append(clients, name)
		}
	}
	return dhcp, servers, clients
}

// ExpandTargets expands single addresses and inclusive a-b ranges into a
// deduplicated, numerically sorted address list. Reversed ranges are
// accepted and swapped.
func ExpandTargets(targets []string) ([]string, error) {
	seen := make(map[uint32]struct{})
	for _, entry := range targets {
		text := strings.TrimSpace(entry)
		if text == "" {
			continue
		}
		left, right, isRange := strings.Cut(text, "-")
		if !isRange {
			v, err := parseIPv4(text)
			if err != nil {
				return nil, err
			}
			seen[v] = struct{}{}
			continue
		}
		start, err := parseIPv4(strings.TrimSpace(left))
		if err != nil {
			return nil, err
		}
		end, err := parseIPv4(strings.TrimSpace(right))
		if err != nil {
			return nil, err
		}
		if start > end {
			start, end = end, start
		}
		for v := start; ; v++ {
			seen[v] = struct{}{}
			if v == end {
				break
			}
		}
	}

	values := make([]uint32, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	out := make([]string, len(values))
	for i, v := range values {
		out[i] = formatIPv4(v)
	}
	return out, nil
}

func parseIPv4(text string) (uint32, error) {
	ip := net.ParseIP(text)
	if ip == nil || ip.To4() == nil {
		return 0, fmt.Errorf("invalid IPv4 address %q", text)
	}
	return binary.BigEndian.Uint32(ip.To4()), nil
}

func formatIPv4(v uint32) string {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip.String()
}

func nameOrID(n gns3.Node) string {
	if name := strings.TrimSpace(n.Name); name != "" {
		return name
	}
	return n.NodeID
}

// phaseLimit clamps a concurrency setting to the work size, with a floor
// of one.
func phaseLimit(limit, n int) int {
	if n < limit {
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

var shellSafeRe = regexp.MustCompile(`^[A-Za-z0-9@%+=:,./_-]+$`)

// quoteShellArg single-quotes an argument for a POSIX shell unless it is
// already safe as-is.
func quoteShellArg(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafeRe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
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
