package gns3

// Project is a GNS3 project as returned by /v2/projects.
type Project struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

// Template is a node template registered on the GNS3 server.
type Template struct {
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
}

// Node is a node inside a project. Console is 0 when the server reports
// null (nodes without an attached console).
type Node struct {
	NodeID      string `json:"node_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Console     int    `json:"console"`
	ConsoleType string `json:"console_type"`
	ConsoleHost string `json:"console_host"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
}

// ConsolePort returns the node's console port and whether it is usable.
func (n Node) ConsolePort() (int, bool) {
	if n.Console <= 0 {
		return 0, false
	}
	return n.Console, true
}

// LinkEndpoint identifies one side of a link: a node plus the adapter and
// port it attaches with.
type LinkEndpoint struct {
	NodeID        string `json:"node_id"`
	AdapterNumber int    `json:"adapter_number"`
	PortNumber    int    `json:"port_number"`
}

// Link is a wire between two endpoints in a project.
type Link struct {
	LinkID string         `json:"link_id"`
	Nodes  []LinkEndpoint `json:"nodes"`
}

// Teardown summarizes a whole-project purge. Per-item failures are
// collected rather than aborting the purge.
type Teardown struct {
	NodesDeleted int
	LinksDeleted int
	Errors       []string
}
