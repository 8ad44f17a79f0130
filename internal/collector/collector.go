// Package collector provisions syslog collector nodes inside a GNS3
// project and wires student machines to forward their shell history to
// them. The pipeline is deliberately forgiving: individual collectors
// and individual target nodes fail independently, and every failure is
// accumulated instead of aborting the run.
package collector

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/console"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/gns3"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/metrics"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/nodes"
)

// DefaultTemplateName is the platform template collectors are
// instantiated from.
const DefaultTemplateName = "syslog-collector"

// SyslogPort is the UDP port collectors listen on for forwarded
// commands.
const SyslogPort = 514

// Default switch names the high-level setup attaches collectors to.
const (
	DefaultITSwitchName = "IT-Switch"
	DefaultOTSwitchName = "OT-Switch"
)

// PlatformClient is the slice of the GNS3 API the provisioner consumes.
type PlatformClient interface {
	ListTemplates(ctx context.Context) ([]gns3.Template, error)
	ListNodes(ctx context.Context, projectID string) ([]gns3.Node, error)
	GetNode(ctx context.Context, projectID, nodeID string) (*gns3.Node, error)
	AddNodeFromTemplate(ctx context.Context, projectID, templateID, name string, x, y int) (*gns3.Node, error)
	CreateLink(ctx context.Context, projectID string, a, b gns3.LinkEndpoint) (*gns3.Link, error)
	ListLinks(ctx context.Context, projectID string) ([]gns3.Link, error)
	StartNode(ctx context.Context, projectID, nodeID string) error
	DeleteNode(ctx context.Context, projectID, nodeID string) error
}

var _ PlatformClient = (*gns3.Client)(nil)

// CollectorConfig describes one collector deployment: the suffix of the
// node name (prefixed with the student name) and the switch it attaches
// to.
type CollectorConfig struct {
	NameSuffix string
	SwitchName string
}

// SnitchNodeInfo describes a deployed collector as consumers see it:
// where it listens for syslog traffic and how to reach its console
// later for log retrieval.
type SnitchNodeInfo struct {
	NodeID            string `json:"node_id"`
	Name              string `json:"name"`
	IPAddress         string `json:"ip_address"`
	Port              int    `json:"port"`
	ConnectedToSwitch string `json:"connected_to_switch"`
	ConsolePort       int    `json:"console_port,omitempty"`
	ConsoleHost       string `json:"console_host,omitempty"`
}

// Result aggregates one full setup run: the collectors deployed, the
// nodes that received the prompt hook, the ones skipped with a reason,
// and every error accumulated along the way.
type Result struct {
	SnitchNodes    []SnitchNodeInfo `json:"snitch_nodes"`
	InjectedNodes  []string         `json:"injected_nodes"`
	SkippedNodes   []string         `json:"skipped_nodes"`
	Errors         []string         `json:"errors"`
	ReusedExisting bool             `json:"reused_existing"`
}

// Timing groups the wait windows of the pipeline. The emulated consoles
// have no completion signal, so every step is a fixed window sized to
// the expected command duration; tests shrink these to keep runs fast.
type Timing struct {
	// BootSettle is the wait after starting a collector node before its
	// console is dialed.
	BootSettle time.Duration
	// SessionSettle is the post-dial pause before the first command.
	SessionSettle time.Duration
	// AddressSettle is the longer post-dial pause used during IP
	// acquisition; container networking comes up after the console does.
	AddressSettle time.Duration
	// DrainWindow is the read used to clear buffered boot noise.
	DrainWindow time.Duration
	// ProbeWindow is the read window for short commands.
	ProbeWindow time.Duration
	// DHClientWindow is the read window for the dhclient run.
	DHClientWindow time.Duration
	// LeaseSettle is the pause after dhclient before re-querying.
	LeaseSettle time.Duration
	// RestartSettle is the pause between starting syslog-ng and
	// re-probing it.
	RestartSettle time.Duration
	// LogWindow is the read window for dumping the captured log file.
	LogWindow time.Duration
}

// DefaultTiming returns the stock wait windows.
func DefaultTiming() Timing {
	return Timing{
		BootSettle:     3 * time.Second,
		SessionSettle:  500 * time.Millisecond,
		AddressSettle:  time.Second,
		DrainWindow:    time.Second,
		ProbeWindow:    2 * time.Second,
		DHClientWindow: 10 * time.Second,
		LeaseSettle:    2 * time.Second,
		RestartSettle:  time.Second,
		LogWindow:      5 * time.Second,
	}
}

// Provisioner deploys collectors into one project on one server. The
// exported fields tune behavior and are set to defaults by
// NewProvisioner; adjust them before the first call.
type Provisioner struct {
	// TemplateName selects the platform template collectors are created
	// from.
	TemplateName string
	// Console tunes the console sessions opened against nodes.
	Console console.Settings
	// Timing holds the pipeline's wait windows.
	Timing Timing

	client     PlatformClient
	projectID  string
	serverIP   string
	classifier nodes.Classifier
	logger     *zap.Logger
}

// NewProvisioner wires a provisioner to its project.
func NewProvisioner(client PlatformClient, projectID, serverIP string, classifier nodes.Classifier, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		TemplateName: DefaultTemplateName,
		Console:      console.DefaultSettings(),
		Timing:       DefaultTiming(),
		client:       client,
		projectID:    projectID,
		serverIP:     serverIP,
		classifier:   classifier,
		logger:       logger,
	}
}

// SetupCollectors deploys one collector per config. Collectors are
// idempotent by name: an existing node is reused and its switch wiring
// left alone. Per-collector failures are accumulated in the returned
// messages; only template resolution and context cancellation abort the
// run.
func (p *Provisioner) SetupCollectors(ctx context.Context, student string, configs []CollectorConfig) (snitches []SnitchNodeInfo, errs []string, reused bool, err error) {
	templateID, err := p.findTemplateID(ctx)
	if err != nil {
		return nil, nil, false, err
	}

	for _, cfg := range configs {
		node, nodeReused, setupErr := p.createCollectorNode(ctx, student, cfg, templateID)
		if setupErr != nil {
			errs = append(errs, p.recordSetupFailure(cfg, setupErr))
			continue
		}
		if nodeReused {
			reused = true
		} else if wireErr := p.connectToSwitch(ctx, node, cfg.SwitchName); wireErr != nil {
			// A collector left unwired may still reach the network over a
			// pre-existing link, so this is not fatal.
			p.logger.Error("failed to connect collector to switch",
				zap.String("node", node.Name),
				zap.String("switch", cfg.SwitchName),
				zap.Error(wireErr))
		}

		// Refresh to pick up the console endpoint assigned on create.
		node, setupErr = p.client.GetNode(ctx, p.projectID, node.NodeID)
		if setupErr != nil {
			errs = append(errs, p.recordSetupFailure(cfg, setupErr))
			continue
		}
		if setupErr = p.client.StartNode(ctx, p.projectID, node.NodeID); setupErr != nil {
			errs = append(errs, p.recordSetupFailure(cfg, setupErr))
			continue
		}

		if err := sleepCtx(ctx, p.Timing.BootSettle); err != nil {
			return snitches, errs, reused, err
		}

		ip, ipErr := p.acquireIP(ctx, node)
		if ipErr != nil || ip == "" {
			p.logger.Error("collector has no address",
				zap.String("collector", cfg.NameSuffix), zap.Error(ipErr))
			metrics.ProvisionErrorsTotal.Inc()
			errs = append(errs, fmt.Sprintf("Failed to obtain IP for %s - ensure DHCP server is running or assign static IP", cfg.NameSuffix))
			continue
		}

		if !p.ensureSyslogRunning(ctx, node) {
			msg := fmt.Sprintf("Warning: syslog-ng may not be running on %s", cfg.NameSuffix)
			p.logger.Warn(msg)
			// Forwarding may still work once the daemon comes up, so the
			// collector stays in the result set.
			errs = append(errs, msg)
		}

		info := SnitchNodeInfo{
			NodeID:            node.NodeID,
			Name:              node.Name,
			IPAddress:         ip,
			Port:              SyslogPort,
			ConnectedToSwitch: cfg.SwitchName,
			ConsoleHost:       p.consoleHostFor(node),
		}
		if port, ok := node.ConsolePort(); ok {
			info.ConsolePort = port
		}
		snitches = append(snitches, info)
	}
	return snitches, errs, reused, nil
}

func (p *Provisioner) recordSetupFailure(cfg CollectorConfig, err error) string {
	p.logger.Error("collector setup failed",
		zap.String("collector", cfg.NameSuffix), zap.Error(err))
	metrics.ProvisionErrorsTotal.Inc()
	return fmt.Sprintf("Failed to setup %s: %v", cfg.NameSuffix, err)
}

func (p *Provisioner) findTemplateID(ctx context.Context) (string, error) {
	templates, err := p.client.ListTemplates(ctx)
	if err != nil {
		return "", fmt.Errorf("list templates: %w", err)
	}
	for _, tpl := range templates {
		if tpl.Name == p.TemplateName {
			return tpl.TemplateID, nil
		}
	}
	return "", fmt.Errorf("template %q not found on GNS3 server", p.TemplateName)
}

// findNode returns the project node with the exact given name, or nil
// when absent. Collector names embed the student name verbatim, so the
// match is case sensitive.
func (p *Provisioner) findNode(ctx context.Context, name string) (*gns3.Node, error) {
	list, err := p.client.ListNodes(ctx, p.projectID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	for i := range list {
		if list[i].Name == name {
			return &list[i], nil
		}
	}
	return nil, nil
}

func (p *Provisioner) findSwitch(ctx context.Context, switchName string) (*gns3.Node, error) {
	node, err := p.findNode(ctx, switchName)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("switch %q not found in project", switchName)
	}
	return node, nil
}

// createCollectorNode finds or creates the named collector. Fresh nodes
// are positioned just below and right of their switch so operators can
// spot them on the canvas.
func (p *Provisioner) createCollectorNode(ctx context.Context, student string, cfg CollectorConfig, templateID string) (*gns3.Node, bool, error) {
	name := student + "-" + cfg.NameSuffix

	existing, err := p.findNode(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		p.logger.Info("reusing existing collector node", zap.String("node", name))
		return existing, true, nil
	}

	sw, err := p.findSwitch(ctx, cfg.SwitchName)
	if err != nil {
		return nil, false, err
	}

	node, err := p.client.AddNodeFromTemplate(ctx, p.projectID, templateID, name, sw.X+150, sw.Y+100)
	if err != nil {
		return nil, false, fmt.Errorf("create node %q: %w", name, err)
	}
	p.logger.Info("created collector node", zap.String("node", name))
	return node, false, nil
}

// connectToSwitch links the collector's first interface to a free port
// on the switch.
func (p *Provisioner) connectToSwitch(ctx context.Context, node *gns3.Node, switchName string) error {
	sw, err := p.findSwitch(ctx, switchName)
	if err != nil {
		return err
	}
	adapter, port, err := p.findAvailablePort(ctx, sw)
	if err != nil {
		return err
	}
	_, err = p.client.CreateLink(ctx, p.projectID,
		gns3.LinkEndpoint{NodeID: node.NodeID, AdapterNumber: 0, PortNumber: 0},
		gns3.LinkEndpoint{NodeID: sw.NodeID, AdapterNumber: adapter, PortNumber: port},
	)
	if err != nil {
		return fmt.Errorf("link %q to %q: %w", node.Name, switchName, err)
	}
	p.logger.Info("connected collector to switch",
		zap.String("node", node.Name),
		zap.String("switch", switchName),
		zap.Int("adapter", adapter))
	return nil
}

// findAvailablePort picks a free adapter on a switch. Open vSwitch
// exposes each port as its own adapter with port_number 0. The scan
// runs 15 down to 1: high adapters avoid colliding with hand-built
// scenario links, and adapter 0 is skipped because attaching there has
// broken DHCP on these images.
func (p *Provisioner) findAvailablePort(ctx context.Context, sw *gns3.Node) (int, int, error) {
	links, err := p.client.ListLinks(ctx, p.projectID)
	if err != nil {
		return 0, 0, fmt.Errorf("list links: %w", err)
	}

	used := make(map[int]bool)
	for _, link := range links {
		for _, ep := range link.Nodes {
			if ep.NodeID == sw.NodeID {
				used[ep.AdapterNumber] = true
			}
		}
	}

	for adapter := 15; adapter >= 1; adapter-- {
		if !used[adapter] {
			return adapter, 0, nil
		}
	}
	return 0, 0, fmt.Errorf("no available ports on node %q (adapters 1-15 all in use)", sw.Name)
}

// acquireIP reads the collector's address over its console, falling
// back to a one-shot dhclient run when none is assigned yet. An empty
// address with a nil error means both queries came back clean but
// empty.
func (p *Provisioner) acquireIP(ctx context.Context, node *gns3.Node) (string, error) {
	target, ok := p.consoleTargetFor(node)
	if !ok {
		return "", fmt.Errorf("no console target for node %q", node.Name)
	}

	var ip string
	err := console.WithSession(ctx, target.Host, target.Port, p.Console, func(s *console.Session) error {
		if err := sleepCtx(ctx, p.Timing.AddressSettle); err != nil {
			return err
		}
		_, _ = s.Read(p.Timing.DrainWindow)

		out, err := s.RunCommand("hostname -I", p.Timing.ProbeWindow)
		if err != nil {
			return err
		}
		if ip = firstUsableIPv4(out); ip != "" {
			p.logger.Info("found existing address", zap.String("node", node.Name), zap.String("ip", ip))
			return nil
		}

		p.logger.Info("no address assigned, requesting via dhcp", zap.String("node", node.Name))
		if _, err := s.RunCommand("dhclient -v -1", p.Timing.DHClientWindow); err != nil {
			return err
		}
		if err := sleepCtx(ctx, p.Timing.LeaseSettle); err != nil {
			return err
		}

		out, err = s.RunCommand("hostname -I", p.Timing.ProbeWindow)
		if err != nil {
			return err
		}
		ip = firstUsableIPv4(out)
		return nil
	})
	if err != nil {
		return "", err
	}
	return ip, nil
}

// ensureSyslogRunning verifies syslog-ng is up on the collector,
// starting it once if not. pgrep output is judged by digit presence:
// the command echo contains no digits, a pid does.
func (p *Provisioner) ensureSyslogRunning(ctx context.Context, node *gns3.Node) bool {
	target, ok := p.consoleTargetFor(node)
	if !ok {
		p.logger.Warn("no console target for syslog probe", zap.String("node", node.Name))
		return false
	}

	running := false
	err := console.WithSession(ctx, target.Host, target.Port, p.Console, func(s *console.Session) error {
		if err := sleepCtx(ctx, p.Timing.SessionSettle); err != nil {
			return err
		}
		_, _ = s.Read(p.Timing.DrainWindow)

		out, err := s.RunCommand("pgrep syslog-ng", p.Timing.ProbeWindow)
		if err != nil {
			return err
		}
		if containsDigit(out) {
			p.logger.Info("syslog-ng already running", zap.String("node", node.Name))
			running = true
			return nil
		}

		p.logger.Info("starting syslog-ng", zap.String("node", node.Name))
		if _, err := s.RunCommand("syslog-ng", p.Timing.ProbeWindow); err != nil {
			return err
		}
		if err := sleepCtx(ctx, p.Timing.RestartSettle); err != nil {
			return err
		}

		out, err = s.RunCommand("pgrep syslog-ng", p.Timing.ProbeWindow)
		if err != nil {
			return err
		}
		running = containsDigit(out)
		return nil
	})
	if err != nil {
		p.logger.Error("syslog-ng probe failed", zap.String("node", node.Name), zap.Error(err))
		return false
	}
	if !running {
		p.logger.Error("syslog-ng did not start", zap.String("node", node.Name))
	}
	return running
}

func (p *Provisioner) consoleTargetFor(node *gns3.Node) (nodes.ConsoleTarget, bool) {
	port, ok := node.ConsolePort()
	if !ok {
		return nodes.ConsoleTarget{}, false
	}
	return nodes.ResolveTarget(port, p.serverIP, node.ConsoleHost)
}

// consoleHostFor picks the host recorded alongside a snitch node for
// later log retrieval: the node's own console host when usable, the
// server address otherwise.
func (p *Provisioner) consoleHostFor(node *gns3.Node) string {
	if host := nodes.NormalizeHost(node.ConsoleHost); host != "" {
		return host
	}
	return p.serverIP
}

var ipv4CandidateRe = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`)

// firstUsableIPv4 extracts the first routable IPv4 address from
// hostname -I style output, skipping loopback and link-local addresses.
func firstUsableIPv4(output string) string {
	for _, candidate := range ipv4CandidateRe.FindAllString(output, -1) {
		ip := net.ParseIP(candidate)
		if ip == nil || ip.To4() == nil {
			continue
		}
		if strings.HasPrefix(candidate, "127.") || strings.HasPrefix(candidate, "169.254.") {
			continue
		}
		return candidate
	}
	return ""
}

func containsDigit(s string) bool {
	return strings.ContainsFunc(s, unicode.IsDigit)
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
