// Package dhcp drives the two-phase DHCP bring-up of a topology: start
// every DHCP/DNS server through its console, pause once while the
// services bind, then run lease acquisition on every client node and
// reconcile the observed addresses into the configuration store.
package dhcp

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/configstore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/console"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/metrics"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/nodes"
)

// Commands sent over node consoles.
const (
	ServerStartCommand = "/usr/local/bin/start.sh"
	DHClientCommand    = "dhclient -v -1"
	IPShowCommand      = "ip -4 addr show"
)

// Actions recorded on results.
const (
	ActionStartServer = "start-server"
	ActionDHClient    = "dhclient"
)

var ipv4Re = regexp.MustCompile(`\binet\s+(\d+\.\d+\.\d+\.\d+)/(\d+)`)

// ExtractFirstIPv4 returns the first address in "inet a.b.c.d/p" form
// outside the 127. loopback range, or "" when no address qualifies.
// Finding nothing is a valid terminal state, not an error.
func ExtractFirstIPv4(output string) string {
	for _, m := range ipv4Re.FindAllStringSubmatch(output, -1) {
		if !strings.HasPrefix(m[1], "127.") {
			return m[1]
		}
	}
	return ""
}

// Result summarizes one console operation against one node.
type Result struct {
	Name       string  `json:"name"`
	Host       string  `json:"host"`
	Port       int     `json:"port"`
	Action     string  `json:"action"`
	Success    bool    `json:"success"`
	Output     string  `json:"output,omitempty"`
	Error      string  `json:"error,omitempty"`
	AssignedIP *string `json:"assigned_ip,omitempty"`
}

// AssignResult is the outcome of one two-phase run.
type AssignResult struct {
	ServerResults []Result `json:"server_results"`
	ClientResults []Result `json:"client_results"`
	Changed       bool     `json:"changed"`
	BackupPath    string   `json:"backup_path,omitempty"`
}

// Options tunes one run. Zero values select the defaults; Warmup defaults
// to no pause and is set explicitly by callers that just started servers.
type Options struct {
	HostOverride      string
	DHClientTimeout   time.Duration
	Warmup            time.Duration
	ServerReadWindow  time.Duration
	IPShowWindow      time.Duration
	InterCommandDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.DHClientTimeout <= 0 {
		o.DHClientTimeout = 15 * time.Second
	}
	if o.ServerReadWindow <= 0 {
		o.ServerReadWindow = 5 * time.Second
	}
	if o.IPShowWindow <= 0 {
		o.IPShowWindow = time.Second
	}
	if o.InterCommandDelay <= 0 {
		o.InterCommandDelay = time.Second
	}
	return o
}

// Orchestrator runs two-phase DHCP assignment over the nodes in a
// configuration store. Each run loads its own working copy of the
// records, mutates it in memory, and commits at most once at the end.
type Orchestrator struct {
	store      *configstore.Store
	classifier nodes.Classifier
	logger     *zap.Logger
}

// NewOrchestrator wires an orchestrator to its store.
func NewOrchestrator(store *configstore.Store, classifier nodes.Classifier, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{store: store, classifier: classifier, logger: logger}
}

// Assign performs the two-phase run. Per-node failures are recorded in
// the results and never abort the batch; the store is backed up and
// written only when at least one record actually changed value.
func (o *Orchestrator) Assign(ctx context.Context, opts Options) (*AssignResult, error) {
	opts = opts.withDefaults()

	doc, err := o.store.Load()
	if err != nil {
		metrics.DHCPRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	records, ok := doc.Nodes()
	if !ok {
		metrics.DHCPRunsTotal.WithLabelValues("error").Inc()
		return nil, errors.New("config missing 'nodes' list")
	}

	// Classification happens once per node, up front.
	kinds := make([]nodes.Kind, len(records))
	for i, rec := range records {
		kinds[i] = o.classifier.Classify(rec.Name())
	}

	o.logger.Info("starting dhcp servers", zap.Int("nodes", len(records)))
	serverResults := o.startServers(ctx, records, kinds, opts)

	if opts.Warmup > 0 {
		o.logger.Debug("waiting for dhcp services to bind", zap.Duration("warmup", opts.Warmup))
		if err := sleepCtx(ctx, opts.Warmup); err != nil {
			metrics.DHCPRunsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	clientResults, changed := o.runClients(ctx, records, kinds, opts)

	result := &AssignResult{
		ServerResults: serverResults,
		ClientResults: clientResults,
		Changed:       changed,
	}

	if !changed {
		metrics.DHCPRunsTotal.WithLabelValues("unchanged").Inc()
		return result, nil
	}

	backupPath, err := o.store.Backup()
	if err != nil {
		metrics.DHCPRunsTotal.WithLabelValues("error").Inc()
		return result, err
	}
	if err := o.store.Write(doc); err != nil {
		metrics.DHCPRunsTotal.WithLabelValues("error").Inc()
		return result, err
	}
	result.BackupPath = backupPath
	metrics.DHCPRunsTotal.WithLabelValues("changed").Inc()
	o.logger.Info("dhcp assignments persisted", zap.String("backup", backupPath))
	return result, nil
}

func (o *Orchestrator) startServers(ctx context.Context, records []nodes.Record, kinds []nodes.Kind, opts Options) []Result {
	results := []Result{}
	for i, rec := range records {
		if kinds[i] != nodes.KindServer {
			continue
		}
		name := rec.Name()

		target, ok := nodes.ResolveConsoleTarget(rec, opts.HostOverride)
		if !ok {
			results = append(results, Result{
				Name:    name,
				Action:  ActionStartServer,
				Success: false,
				Error:   "missing console settings",
			})
			continue
		}

		output, err := console.Run(ctx, target.Host, target.Port, ServerStartCommand, opts.ServerReadWindow)
		if err != nil {
			o.logger.Warn("dhcp server start failed",
				zap.String("node", name), zap.Error(err))
			results = append(results, Result{
				Name:    name,
				Host:    target.Host,
				Port:    target.Port,
				Action:  ActionStartServer,
				Success: false,
				Error:   err.Error(),
			})
			continue
		}

		results = append(results, Result{
			Name:    name,
			Host:    target.Host,
			Port:    target.Port,
			Action:  ActionStartServer,
			Success: true,
			Output:  output,
		})
	}
	return results
}

func (o *Orchestrator) runClients(ctx context.Context, records []nodes.Record, kinds []nodes.Kind, opts Options) ([]Result, bool) {
	results := []Result{}
	changed := false

	for i, rec := range records {
		name := rec.Name()

		if kinds[i] == nodes.KindServer || kinds[i] == nodes.KindSwitch {
			results = append(results, Result{
				Name:    name,
				Action:  ActionDHClient,
				Success: true,
				Output:  "skipped",
			})
			continue
		}

		target, ok := nodes.ResolveConsoleTarget(rec, opts.HostOverride)
		if !ok {
			if rec.ClearAssignedIP() {
				changed = true
			}
			results = append(results, Result{
				Name:    name,
				Action:  ActionDHClient,
				Success: false,
				Error:   "missing console settings",
			})
			continue
		}

		steps := []console.Step{
			{Command: DHClientCommand, ReadFor: opts.DHClientTimeout},
			{Command: IPShowCommand, ReadFor: opts.IPShowWindow},
		}
		output, err := console.RunSequence(ctx, target.Host, target.Port, steps, opts.InterCommandDelay)
		if err != nil {
			o.logger.Warn("dhcp client run failed",
				zap.String("node", name), zap.Error(err))
			if rec.ClearAssignedIP() {
				changed = true
			}
			results = append(results, Result{
				Name:    name,
				Host:    target.Host,
				Port:    target.Port,
				Action:  ActionDHClient,
				Success: false,
				Error:   err.Error(),
			})
			continue
		}

		ip := ExtractFirstIPv4(output)
		if ip == "" {
			if rec.ClearAssignedIP() {
				changed = true
			}
		} else if rec.SetAssignedIP(ip) {
			changed = true
		}

		result := Result{
			Name:    name,
			Host:    target.Host,
			Port:    target.Port,
			Action:  ActionDHClient,
			Success: true,
			Output:  output,
		}
		if ip != "" {
			result.AssignedIP = &ip
		}
		results = append(results, result)
	}

	return results, changed
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
