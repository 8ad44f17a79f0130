package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/gns3"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/nodes"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/testutil"
)

// fakePlatform implements PlatformClient in memory. Created nodes get a
// telnet console stamped from consoleHost/consolePortFor so the
// pipeline can dial the test's fake console servers.
type fakePlatform struct {
	mu sync.Mutex

	templates []gns3.Template
	nodes     []gns3.Node
	links     []gns3.Link

	consoleHost    string
	consolePortFor func(name string) int

	created    []string
	started    []string
	deleted    []string
	failDelete map[string]error
}

func (f *fakePlatform) ListTemplates(context.Context) ([]gns3.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gns3.Template(nil), f.templates...), nil
}

func (f *fakePlatform) ListNodes(context.Context, string) ([]gns3.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gns3.Node(nil), f.nodes...), nil
}

func (f *fakePlatform) GetNode(_ context.Context, _, nodeID string) (*gns3.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.nodes {
		if f.nodes[i].NodeID == nodeID {
			node := f.nodes[i]
			return &node, nil
		}
	}
	return nil, fmt.Errorf("node %s not found", nodeID)
}

func (f *fakePlatform) AddNodeFromTemplate(_ context.Context, _, _, name string, x, y int) (*gns3.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	port := 0
	if f.consolePortFor != nil {
		port = f.consolePortFor(name)
	}
	node := gns3.Node{
		NodeID:      uuid.NewString(),
		Name:        name,
		Status:      "stopped",
		Console:     port,
		ConsoleType: "telnet",
		ConsoleHost: f.consoleHost,
		X:           x,
		Y:           y,
	}
	f.nodes = append(f.nodes, node)
	f.created = append(f.created, name)
	return &node, nil
}

func (f *fakePlatform) CreateLink(_ context.Context, _ string, a, b gns3.LinkEndpoint) (*gns3.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link := gns3.Link{LinkID: uuid.NewString(), Nodes: []gns3.LinkEndpoint{a, b}}
	f.links = append(f.links, link)
	return &link, nil
}

func (f *fakePlatform) ListLinks(context.Context, string) ([]gns3.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gns3.Link(nil), f.links...), nil
}

func (f *fakePlatform) StartNode(_ context.Context, _, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.nodes {
		if f.nodes[i].NodeID == nodeID {
			f.nodes[i].Status = "started"
			f.started = append(f.started, f.nodes[i].Name)
			return nil
		}
	}
	return fmt.Errorf("node %s not found", nodeID)
}

func (f *fakePlatform) DeleteNode(_ context.Context, _, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.nodes {
		if f.nodes[i].NodeID != nodeID {
			continue
		}
		if err := f.failDelete[f.nodes[i].Name]; err != nil {
			return err
		}
		f.deleted = append(f.deleted, f.nodes[i].Name)
		f.nodes = append(f.nodes[:i], f.nodes[i+1:]...)
		return nil
	}
	return fmt.Errorf("node %s not found", nodeID)
}

func (f *fakePlatform) addNode(node gns3.Node) gns3.Node {
	if node.NodeID == "" {
		node.NodeID = uuid.NewString()
	}
	f.nodes = append(f.nodes, node)
	return node
}

func (f *fakePlatform) nodeByName(name string) (gns3.Node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, node := range f.nodes {
		if node.Name == name {
			return node, true
		}
	}
	return gns3.Node{}, false
}

func (f *fakePlatform) linkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

func testTiming() Timing {
	return Timing{
		BootSettle:     time.Millisecond,
		SessionSettle:  time.Millisecond,
		AddressSettle:  time.Millisecond,
		DrainWindow:    5 * time.Millisecond,
		ProbeWindow:    150 * time.Millisecond,
		DHClientWindow: 50 * time.Millisecond,
		LeaseSettle:    time.Millisecond,
		RestartSettle:  time.Millisecond,
		LogWindow:      150 * time.Millisecond,
	}
}

func newTestProvisioner(client PlatformClient) *Provisioner {
	p := NewProvisioner(client, "proj-1", "127.0.0.1", nodes.DefaultClassifier(), nil)
	p.Timing = testTiming()
	return p
}

// collectorConsole answers the probes the setup pipeline issues, handing
// out the given address on the first hostname query.
func collectorConsole(t *testing.T, ip string) *testutil.ConsoleServer {
	t.Helper()
	return testutil.StartConsoleServer(t, func(line string) string {
		switch line {
		case "hostname -I":
			return ip + " \r\n/ # "
		case "pgrep syslog-ng":
			return "321\r\n/ # "
		}
		return ""
	})
}

func TestSetupLogging_EndToEnd(t *testing.T) {
	srvIT := collectorConsole(t, "10.0.0.10")
	srvOT := collectorConsole(t, "10.0.0.20")
	srvTargets := testutil.StartConsoleServer(t, nil)

	fake := &fakePlatform{
		templates:   []gns3.Template{{TemplateID: "tpl-alpine", Name: "alpine"}, {TemplateID: "tpl-syslog", Name: "syslog-collector"}},
		consoleHost: "0.0.0.0",
		consolePortFor: func(name string) int {
			if strings.Contains(name, "OT-") {
				return srvOT.Port()
			}
			return srvIT.Port()
		},
	}
	fake.addNode(gns3.Node{Name: "IT-Switch", ConsoleType: "telnet", X: 100, Y: 200})
	fake.addNode(gns3.Node{Name: "OT-Switch", ConsoleType: "telnet", X: 400, Y: 200})
	fake.addNode(gns3.Node{Name: "alice-PC", ConsoleType: "telnet", Console: srvTargets.Port(), ConsoleHost: "0.0.0.0"})
	fake.addNode(gns3.Node{Name: "plc-OT-1", ConsoleType: "telnet", Console: srvTargets.Port(), ConsoleHost: "0.0.0.0"})
	fake.addNode(gns3.Node{Name: "cam-1", ConsoleType: "vnc", Console: 5901})

	p := newTestProvisioner(fake)
	result, err := p.SetupLogging(context.Background(), "alice")
	require.NoError(t, err)

	require.Len(t, result.SnitchNodes, 2)
	it, ot := result.SnitchNodes[0], result.SnitchNodes[1]
	assert.Equal(t, "alice-IT-Collector", it.Name)
	assert.Equal(t, "10.0.0.10", it.IPAddress)
	assert.Equal(t, 514, it.Port)
	assert.Equal(t, "IT-Switch", it.ConnectedToSwitch)
	assert.Equal(t, srvIT.Port(), it.ConsolePort)
	assert.Equal(t, "127.0.0.1", it.ConsoleHost, "0.0.0.0 console host falls back to the server address")
	assert.Equal(t, "alice-OT-Collector", ot.Name)
	assert.Equal(t, "10.0.0.20", ot.IPAddress)
	assert.Equal(t, "OT-Switch", ot.ConnectedToSwitch)

	assert.Empty(t, result.Errors)
	assert.False(t, result.ReusedExisting)
	assert.Equal(t, []string{"alice-IT-Collector", "alice-OT-Collector"}, fake.created)
	assert.ElementsMatch(t, []string{"alice-IT-Collector", "alice-OT-Collector"}, fake.started)

	// Fresh collectors are positioned below and right of their switch.
	created, ok := fake.nodeByName("alice-IT-Collector")
	require.True(t, ok)
	assert.Equal(t, 250, created.X)
	assert.Equal(t, 300, created.Y)

	// Each collector hangs off a free high adapter of its switch.
	require.Equal(t, 2, fake.linkCount())
	for _, link := range fake.links {
		require.Len(t, link.Nodes, 2)
		assert.Equal(t, 0, link.Nodes[0].AdapterNumber)
		assert.Equal(t, 0, link.Nodes[0].PortNumber)
		assert.Equal(t, 15, link.Nodes[1].AdapterNumber)
		assert.Equal(t, 0, link.Nodes[1].PortNumber)
	}

	// Only real student machines receive the hook.
	assert.Equal(t, []string{"alice-PC", "plc-OT-1"}, result.InjectedNodes)
	assert.ElementsMatch(t, []string{
		"IT-Switch (infrastructure node)",
		"OT-Switch (infrastructure node)",
		"cam-1 (console_type=vnc)",
		"alice-IT-Collector (infrastructure node)",
		"alice-OT-Collector (infrastructure node)",
	}, result.SkippedNodes)

	// OT-named machines report to the OT collector, the rest to IT, and
	// the hook is persisted to .bashrc.
	var promptLines []string
	for _, line := range srvTargets.Lines() {
		if strings.HasPrefix(line, "export PROMPT_COMMAND=") {
			promptLines = append(promptLines, line)
		}
	}
	require.Len(t, promptLines, 2)
	assert.Contains(t, promptLines[0], "logger -n 10.0.0.10 -P 514")
	assert.Contains(t, promptLines[0], `-t "Student-CMD"`)
	assert.Contains(t, promptLines[1], "logger -n 10.0.0.20 -P 514")

	var persisted int
	for _, line := range srvTargets.Lines() {
		if strings.HasPrefix(line, `echo "export PROMPT_COMMAND=`) && strings.HasSuffix(line, ">> ~/.bashrc") {
			persisted++
		}
	}
	assert.Equal(t, 2, persisted)

	// The collectors already had an address and a running syslog-ng, so
	// no dhclient run and no daemon start.
	for _, line := range append(srvIT.Lines(), srvOT.Lines()...) {
		assert.NotEqual(t, "dhclient -v -1", line)
		assert.NotEqual(t, "syslog-ng", line)
	}
}

func TestSetupCollectors_ReusesExistingNode(t *testing.T) {
	srv := collectorConsole(t, "10.0.0.30")

	fake := &fakePlatform{
		templates: []gns3.Template{{TemplateID: "tpl-syslog", Name: "syslog-collector"}},
	}
	fake.addNode(gns3.Node{Name: "IT-Switch", ConsoleType: "telnet"})
	fake.addNode(gns3.Node{
		Name:        "bob-IT-Collector",
		ConsoleType: "telnet",
		Console:     srv.Port(),
		ConsoleHost: "127.0.0.1",
	})

	p := newTestProvisioner(fake)
	snitches, errs, reused, err := p.SetupCollectors(context.Background(), "bob", []CollectorConfig{
		{NameSuffix: "IT-Collector", SwitchName: "IT-Switch"},
	})
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.True(t, reused)

	require.Len(t, snitches, 1)
	assert.Equal(t, "bob-IT-Collector", snitches[0].Name)
	assert.Equal(t, "10.0.0.30", snitches[0].IPAddress)

	// Reuse skips both creation and switch wiring, but still starts the
	// node.
	assert.Empty(t, fake.created)
	assert.Equal(t, 0, fake.linkCount())
	assert.Equal(t, []string{"bob-IT-Collector"}, fake.started)
}

func TestSetupCollectors_MissingTemplateAborts(t *testing.T) {
	fake := &fakePlatform{
		templates: []gns3.Template{{TemplateID: "tpl-alpine", Name: "alpine"}},
	}

	p := newTestProvisioner(fake)
	_, _, _, err := p.SetupCollectors(context.Background(), "alice", []CollectorConfig{
		{NameSuffix: "IT-Collector", SwitchName: "IT-Switch"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"syslog-collector" not found on GNS3 server`)
}

func TestSetupCollectors_MissingSwitchRecordedPerCollector(t *testing.T) {
	srv := collectorConsole(t, "10.0.0.40")

	fake := &fakePlatform{
		templates:   []gns3.Template{{TemplateID: "tpl-syslog", Name: "syslog-collector"}},
		consoleHost: "127.0.0.1",
		consolePortFor: func(string) int {
			return srv.Port()
		},
	}
	fake.addNode(gns3.Node{Name: "OT-Switch", ConsoleType: "telnet", X: 10, Y: 20})

	p := newTestProvisioner(fake)
	snitches, errs, reused, err := p.SetupCollectors(context.Background(), "alice", []CollectorConfig{
		{NameSuffix: "IT-Collector", SwitchName: "IT-Switch"},
		{NameSuffix: "OT-Collector", SwitchName: "OT-Switch"},
	})
	require.NoError(t, err)
	assert.False(t, reused)

	// The first collector fails on switch lookup, the second deploys.
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Failed to setup IT-Collector")
	assert.Contains(t, errs[0], `"IT-Switch" not found in project`)

	require.Len(t, snitches, 1)
	assert.Equal(t, "alice-OT-Collector", snitches[0].Name)
}

func TestFindAvailablePort(t *testing.T) {
	fake := &fakePlatform{}
	sw := fake.addNode(gns3.Node{Name: "IT-Switch"})
	other := fake.addNode(gns3.Node{Name: "peer"})

	p := newTestProvisioner(fake)

	// Occupied adapters on the switch are skipped; the scan starts high.
	for _, adapter := range []int{15, 14} {
		fake.links = append(fake.links, gns3.Link{
			LinkID: uuid.NewString(),
			Nodes: []gns3.LinkEndpoint{
				{NodeID: sw.NodeID, AdapterNumber: adapter},
				{NodeID: other.NodeID, AdapterNumber: 0},
			},
		})
	}
	adapter, port, err := p.findAvailablePort(context.Background(), &sw)
	require.NoError(t, err)
	assert.Equal(t, 13, adapter)
	assert.Equal(t, 0, port)

	// Adapter 0 stays reserved even when everything else is taken.
	fake.links = nil
	for a := 1; a <= 15; a++ {
		fake.links = append(fake.links, gns3.Link{
			Nodes: []gns3.LinkEndpoint{{NodeID: sw.NodeID, AdapterNumber: a}},
		})
	}
	_, _, err = p.findAvailablePort(context.Background(), &sw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapters 1-15 all in use")
}

func TestSetupLogging_NoCollectorsDeployed(t *testing.T) {
	fake := &fakePlatform{
		templates: []gns3.Template{{TemplateID: "tpl-syslog", Name: "syslog-collector"}},
	}

	p := newTestProvisioner(fake)

	// Setup failures surface as the result's errors.
	result, err := p.SetupLoggingWith(context.Background(), "alice", []CollectorConfig{
		{NameSuffix: "IT-Collector", SwitchName: "IT-Switch"},
	})
	require.NoError(t, err)
	assert.Empty(t, result.SnitchNodes)
	assert.Empty(t, result.InjectedNodes)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Failed to setup IT-Collector")

	// With nothing attempted and nothing deployed, a stock hint is
	// returned instead.
	result, err = p.SetupLoggingWith(context.Background(), "alice", nil)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "No collectors could be deployed")
}

func TestAcquireIP_FallsBackToDHClient(t *testing.T) {
	var mu sync.Mutex
	leased := false
	srv := testutil.StartConsoleServer(t, func(line string) string {
		mu.Lock()
		defer mu.Unlock()
		switch line {
		case "hostname -I":
			if leased {
				return "10.1.2.3 \r\n/ # "
			}
			return " \r\n/ # "
		case "dhclient -v -1":
			leased = true
			return "DHCPACK of 10.1.2.3\r\n/ # "
		}
		return ""
	})

	p := newTestProvisioner(&fakePlatform{})
	node := &gns3.Node{Name: "probe", Console: srv.Port(), ConsoleHost: "127.0.0.1"}

	ip, err := p.acquireIP(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", ip)

	lines := srv.Lines()
	assert.Contains(t, lines, "dhclient -v -1")

	var queries int
	for _, line := range lines {
		if line == "hostname -I" {
			queries++
		}
	}
	assert.Equal(t, 2, queries)
}

func TestEnsureSyslogRunning_StartsDaemonOnce(t *testing.T) {
	var mu sync.Mutex
	startedDaemon := false
	srv := testutil.StartConsoleServer(t, func(line string) string {
		mu.Lock()
		defer mu.Unlock()
		switch line {
		case "pgrep syslog-ng":
			if startedDaemon {
				return "200\r\n/ # "
			}
			return "/ # "
		case "syslog-ng":
			startedDaemon = true
			return "/ # "
		}
		return ""
	})

	p := newTestProvisioner(&fakePlatform{})
	node := &gns3.Node{Name: "coll", Console: srv.Port(), ConsoleHost: "127.0.0.1"}

	assert.True(t, p.ensureSyslogRunning(context.Background(), node))
	assert.Contains(t, srv.Lines(), "syslog-ng")
}

func TestRouteCollectorIP(t *testing.T) {
	itSnitch := SnitchNodeInfo{Name: "alice-IT-Collector", IPAddress: "10.0.0.10"}
	otSnitch := SnitchNodeInfo{Name: "alice-OT-Collector", IPAddress: "10.0.0.20"}
	plain := SnitchNodeInfo{Name: "watcher", IPAddress: "10.0.0.30"}

	testCases := []struct {
		name     string
		nodeName string
		snitches []SnitchNodeInfo
		want     string
	}{
		{"ot node to ot collector", "plc-OT-1", []SnitchNodeInfo{itSnitch, otSnitch}, "10.0.0.20"},
		{"plain node to it collector", "alice-PC", []SnitchNodeInfo{otSnitch, itSnitch}, "10.0.0.10"},
		{"ot node without ot collector", "plc-OT-1", []SnitchNodeInfo{itSnitch}, "10.0.0.10"},
		{"no marker falls back to first", "alice-PC", []SnitchNodeInfo{plain}, "10.0.0.30"},
	}
	for _, tc := range testCases {
		got, err := routeCollectorIP(tc.nodeName, tc.snitches)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}

	_, err := routeCollectorIP("alice-PC", nil)
	require.Error(t, err)
}

func TestRetrieveLogs_CleansConsoleNoise(t *testing.T) {
	srv := testutil.StartConsoleServer(t, func(line string) string {
		if strings.HasPrefix(line, "cat ") {
			return "cat /var/log/student.log\r\nAug 20 10:01 alice: whoami\r\nAug 20 10:02 alice: ls -la\r\n/ # "
		}
		return ""
	})

	p := newTestProvisioner(&fakePlatform{})
	content, err := p.RetrieveLogs(context.Background(), SnitchNodeInfo{
		Name:        "alice-IT-Collector",
		ConsoleHost: "127.0.0.1",
		ConsolePort: srv.Port(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Aug 20 10:01 alice: whoami\r\nAug 20 10:02 alice: ls -la", content)

	_, err = p.RetrieveLogs(context.Background(), SnitchNodeInfo{Name: "portless"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no console port")
}

func TestRetrieveAllLogs_KeysAndWarnings(t *testing.T) {
	itConsole := testutil.StartConsoleServer(t, func(line string) string {
		if strings.HasPrefix(line, "cat ") {
			return "Aug 20 alice: nmap 10.0.0.1\r\n/ # "
		}
		return ""
	})
	otConsole := testutil.StartConsoleServer(t, func(line string) string {
		return "/ # "
	})

	p := newTestProvisioner(&fakePlatform{})
	logs, errs := p.RetrieveAllLogs(context.Background(), []SnitchNodeInfo{
		{Name: "alice-IT-Collector", ConsoleHost: "127.0.0.1", ConsolePort: itConsole.Port()},
		{Name: "alice-OT-Collector", ConsoleHost: "127.0.0.1", ConsolePort: otConsole.Port()},
		{Name: "watcher"},
	})

	assert.Equal(t, "Aug 20 alice: nmap 10.0.0.1", logs["it"])
	assert.Equal(t, "", logs["ot"])
	assert.Equal(t, "", logs["watcher"])

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "Log file is empty")
	assert.Contains(t, errs[0], "alice-OT-Collector")
	assert.Contains(t, errs[1], "Failed to retrieve logs from watcher")
}

func TestDeleteCollectorNodes(t *testing.T) {
	fake := &fakePlatform{
		failDelete: map[string]error{"alice-OT-Collector": errors.New("conflict")},
	}
	fake.addNode(gns3.Node{Name: "alice-IT-Collector"})
	fake.addNode(gns3.Node{Name: "alice-OT-Collector"})
	fake.addNode(gns3.Node{Name: "alice-log-collector"})
	fake.addNode(gns3.Node{Name: "bob-IT-Collector"})
	fake.addNode(gns3.Node{Name: "alice-PC"})

	p := newTestProvisioner(fake)
	deleted, err := p.DeleteCollectorNodes(context.Background(), "alice")
	require.NoError(t, err)

	// Matching is prefix plus collector marker, case-insensitive on the
	// marker. A failed delete is skipped, not fatal.
	assert.ElementsMatch(t, []string{"alice-IT-Collector", "alice-log-collector"}, deleted)

	_, stillThere := fake.nodeByName("alice-OT-Collector")
	assert.True(t, stillThere)
	_, bobKept := fake.nodeByName("bob-IT-Collector")
	assert.True(t, bobKept)
	_, pcKept := fake.nodeByName("alice-PC")
	assert.True(t, pcKept)
}

func TestFirstUsableIPv4(t *testing.T) {
	testCases := []struct {
		output string
		want   string
	}{
		{"192.168.0.50 \n", "192.168.0.50"},
		{"127.0.0.1 192.168.1.9", "192.168.1.9"},
		{"169.254.3.3 ", ""},
		{"300.1.2.3", ""},
		{"no addresses here", ""},
		{"", ""},
		{"fe80::1 10.0.0.8", "10.0.0.8"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, firstUsableIPv4(tc.output), "output %q", tc.output)
	}
}

func TestCollectorKey(t *testing.T) {
	assert.Equal(t, "it", collectorKey("alice-IT-Collector"))
	assert.Equal(t, "ot", collectorKey("alice-OT-Collector"))
	assert.Equal(t, "watcher", collectorKey("Watcher"))
}
