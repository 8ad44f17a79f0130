package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/console"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/gns3"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/nodes"
)

// logFilePath is where collectors write forwarded commands.
const logFilePath = "/var/log/student.log"

// SetupLogging provisions the standard IT and OT collector pair for a
// student and injects the prompt hook into every eligible node.
func (p *Provisioner) SetupLogging(ctx context.Context, student string) (*Result, error) {
	return p.SetupLoggingWith(ctx, student, []CollectorConfig{
		{NameSuffix: "IT-Collector", SwitchName: DefaultITSwitchName},
		{NameSuffix: "OT-Collector", SwitchName: DefaultOTSwitchName},
	})
}

// SetupLoggingWith runs the full pipeline for a custom set of collector
// configs: deploy, then inject. Injection is skipped when no collector
// came up, since there is nowhere to forward commands to.
func (p *Provisioner) SetupLoggingWith(ctx context.Context, student string, configs []CollectorConfig) (*Result, error) {
	snitches, setupErrs, reused, err := p.SetupCollectors(ctx, student, configs)
	if err != nil {
		return nil, err
	}

	if len(snitches) == 0 {
		if len(setupErrs) == 0 {
			setupErrs = []string{"No collectors could be deployed. Ensure DHCP server is running or assign static IPs."}
		}
		return &Result{
			SnitchNodes:    []SnitchNodeInfo{},
			InjectedNodes:  []string{},
			SkippedNodes:   []string{},
			Errors:         setupErrs,
			ReusedExisting: reused,
		}, nil
	}

	injected, skipped, injectErrs, err := p.InjectPromptCommand(ctx, snitches)
	if err != nil {
		return nil, err
	}

	result := &Result{
		SnitchNodes:    snitches,
		InjectedNodes:  injected,
		SkippedNodes:   skipped,
		Errors:         append(setupErrs, injectErrs...),
		ReusedExisting: reused,
	}
	if result.InjectedNodes == nil {
		result.InjectedNodes = []string{}
	}
	if result.SkippedNodes == nil {
		result.SkippedNodes = []string{}
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}
	return result, nil
}

// InjectPromptCommand installs a PROMPT_COMMAND hook on every eligible
// node so each shell command is appended to the node's history and
// forwarded to the student's collector over syslog. Per-node failures
// are accumulated; only the node listing itself can fail the call.
func (p *Provisioner) InjectPromptCommand(ctx context.Context, snitches []SnitchNodeInfo) (injected, skipped, errs []string, err error) {
	eligible, skipped, err := p.eligibleNodes(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	for _, node := range eligible {
		name := node.Name
		if name == "" {
			name = "Unknown"
		}

		target, ok := p.consoleTargetFor(&node)
		if !ok {
			skipped = append(skipped, fmt.Sprintf("%s (no console)", name))
			continue
		}

		collectorIP, routeErr := routeCollectorIP(node.Name, snitches)
		if routeErr != nil {
			errs = append(errs, fmt.Sprintf("Failed to inject into %s: %v", name, routeErr))
			continue
		}

		promptCmd := promptCommand(collectorIP)
		sessErr := console.WithSession(ctx, target.Host, target.Port, p.Console, func(s *console.Session) error {
			if err := sleepCtx(ctx, p.Timing.SessionSettle); err != nil {
				return err
			}
			_, _ = s.Read(p.Timing.DrainWindow)

			if _, err := s.RunCommand(promptCmd, p.Timing.ProbeWindow); err != nil {
				return err
			}
			// Persist across logins.
			persist := fmt.Sprintf("echo %q >> ~/.bashrc", promptCmd)
			_, err := s.RunCommand(persist, p.Timing.ProbeWindow)
			return err
		})
		if sessErr != nil {
			p.logger.Error("prompt hook injection failed", zap.String("node", name), zap.Error(sessErr))
			errs = append(errs, fmt.Sprintf("Failed to inject into %s: %v", name, sessErr))
			continue
		}

		injected = append(injected, name)
		p.logger.Info("injected prompt hook",
			zap.String("node", name), zap.String("collector_ip", collectorIP))
	}
	return injected, skipped, errs, nil
}

// promptCommand builds the shell line that forwards each command to the
// collector: history -a appends to ~/.bash_history, tee keeps the local
// copy, and logger ships the line over syslog tagged Student-CMD.
func promptCommand(collectorIP string) string {
	return fmt.Sprintf(`export PROMPT_COMMAND='history -a >(tee -a ~/.bash_history | logger -n %s -P %d -t "Student-CMD")'`, collectorIP, SyslogPort)
}

// eligibleNodes returns the project nodes that can receive the prompt
// hook. Infrastructure nodes and anything without a telnet console are
// reported as skipped with a reason.
func (p *Provisioner) eligibleNodes(ctx context.Context) ([]gns3.Node, []string, error) {
	list, err := p.client.ListNodes(ctx, p.projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("list nodes: %w", err)
	}

	var eligible []gns3.Node
	var skipped []string
	for _, node := range list {
		if node.ConsoleType != "telnet" {
			skipped = append(skipped, fmt.Sprintf("%s (console_type=%s)", node.Name, node.ConsoleType))
			continue
		}
		switch p.classifier.Classify(node.Name) {
		case nodes.KindSwitch, nodes.KindCollector:
			skipped = append(skipped, fmt.Sprintf("%s (infrastructure node)", node.Name))
			continue
		}
		eligible = append(eligible, node)
	}
	return eligible, skipped, nil
}

// routeCollectorIP picks the collector a node should forward to. Nodes
// with OT in their name go to the OT collector when one exists;
// everything else goes to the IT collector, falling back to the first
// deployed one.
func routeCollectorIP(nodeName string, snitches []SnitchNodeInfo) (string, error) {
	if len(snitches) == 0 {
		return "", errors.New("no snitch nodes available")
	}

	upper := strings.ToUpper(nodeName)
	if strings.Contains(upper, "OT") {
		for _, snitch := range snitches {
			if strings.Contains(strings.ToUpper(snitch.Name), "OT") {
				return snitch.IPAddress, nil
			}
		}
	}
	for _, snitch := range snitches {
		if strings.Contains(strings.ToUpper(snitch.Name), "IT") {
			return snitch.IPAddress, nil
		}
	}
	return snitches[0].IPAddress, nil
}

// RetrieveLogs dumps the captured command log from one collector over
// its console.
func (p *Provisioner) RetrieveLogs(ctx context.Context, snitch SnitchNodeInfo) (string, error) {
	if snitch.ConsolePort <= 0 {
		return "", fmt.Errorf("no console port for %s", snitch.Name)
	}
	host := snitch.ConsoleHost
	if host == "" {
		host = p.serverIP
	}

	var content string
	err := console.WithSession(ctx, host, snitch.ConsolePort, p.Console, func(s *console.Session) error {
		if err := sleepCtx(ctx, p.Timing.SessionSettle); err != nil {
			return err
		}
		_, _ = s.Read(p.Timing.DrainWindow)

		out, err := s.RunCommand("cat "+logFilePath, p.Timing.LogWindow)
		if err != nil {
			return err
		}
		content = cleanLogOutput(out)
		return nil
	})
	if err != nil {
		p.logger.Error("log retrieval failed", zap.String("node", snitch.Name), zap.Error(err))
		return "", err
	}
	return content, nil
}

// RetrieveAllLogs dumps every collector's log, keyed "it"/"ot" by name
// or the lowercased node name when neither marker is present. A
// retrieval failure or an empty log is recorded as a message; the log
// map always carries an entry per collector.
func (p *Provisioner) RetrieveAllLogs(ctx context.Context, snitches []SnitchNodeInfo) (map[string]string, []string) {
	logs := make(map[string]string, len(snitches))
	var errs []string

	for _, snitch := range snitches {
		key := collectorKey(snitch.Name)

		content, err := p.RetrieveLogs(ctx, snitch)
		if err != nil {
			errs = append(errs, fmt.Sprintf("Failed to retrieve logs from %s: %v", snitch.Name, err))
			logs[key] = ""
			continue
		}

		logs[key] = content
		if strings.TrimSpace(content) == "" {
			warning := fmt.Sprintf("%s: Log file is empty - commands may not be reaching the collector", snitch.Name)
			p.logger.Warn(warning)
			errs = append(errs, warning)
		}
	}
	return logs, errs
}

// DeleteCollectorNodes removes every collector node belonging to a
// student. Ownership is derived from the name prefix and the collector
// marker, never from cached node ids: the project may have been rebuilt
// since the collectors were deployed.
func (p *Provisioner) DeleteCollectorNodes(ctx context.Context, student string) ([]string, error) {
	list, err := p.client.ListNodes(ctx, p.projectID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	var deleted []string
	prefix := student + "-"
	for _, node := range list {
		if !strings.HasPrefix(node.Name, prefix) || p.classifier.Classify(node.Name) != nodes.KindCollector {
			continue
		}
		if err := p.client.DeleteNode(ctx, p.projectID, node.NodeID); err != nil {
			p.logger.Error("failed to delete collector node",
				zap.String("node", node.Name), zap.Error(err))
			continue
		}
		deleted = append(deleted, node.Name)
		p.logger.Info("deleted collector node", zap.String("node", node.Name))
	}
	return deleted, nil
}

// cleanLogOutput strips the command echo and shell prompt lines from a
// console log dump.
func cleanLogOutput(raw string) string {
	lines := strings.Split(raw, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "cat ") ||
			strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "/ #") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// collectorKey maps a collector name to its log-map key. IT wins over
// OT when a name somehow carries both markers.
func collectorKey(name string) string {
	upper := strings.ToUpper(name)
	switch {
	case strings.Contains(upper, "IT"):
		return "it"
	case strings.Contains(upper, "OT"):
		return "ot"
	}
	return strings.ToLower(name)
}
