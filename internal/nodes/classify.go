package nodes

import "strings"

// Kind is a node's classification, computed once from its name and passed
// around instead of re-matching keyword strings at every call site.
type Kind int

const (
	KindPlain Kind = iota
	KindSwitch
	KindServer
	KindFirewall
	KindCollector
)

func (k Kind) String() string {
	switch k {
	case KindSwitch:
		return "switch"
	case KindServer:
		return "server"
	case KindFirewall:
		return "firewall"
	case KindCollector:
		return "collector"
	default:
		return "plain"
	}
}

// Classifier holds the name keywords that drive classification. Matching
// is case-insensitive substring search over operator-chosen names, so the
// result is a heuristic, not a typed attribute of the node.
type Classifier struct {
	SwitchKeywords    []string
	ServerKeywords    []string
	FirewallKeywords  []string
	CollectorKeywords []string
}

// DefaultClassifier returns the stock keyword sets.
func DefaultClassifier() Classifier {
	return Classifier{
		SwitchKeywords:    []string{"switch", "openvswitch", "ovs"},
		ServerKeywords:    []string{"dhcp", "dnsmasq"},
		FirewallKeywords:  []string{"firewall"},
		CollectorKeywords: []string{"collector"},
	}
}

// Classify maps a node name to its Kind. Keyword groups are tested in
// fixed precedence: server, switch, collector, firewall. A name matching
// none of them is plain.
func (c Classifier) Classify(name string) Kind {
	lowered := strings.ToLower(name)
	switch {
	case containsAny(lowered, c.ServerKeywords):
		return KindServer
	case containsAny(lowered, c.SwitchKeywords):
		return KindSwitch
	case containsAny(lowered, c.CollectorKeywords):
		return KindCollector
	case containsAny(lowered, c.FirewallKeywords):
		return KindFirewall
	}
	return KindPlain
}

func containsAny(lowered string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
