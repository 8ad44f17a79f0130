// Package nodes provides views over stored node records, name-based
// classification, and console endpoint resolution.
package nodes

import (
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Record is a view over one node entry in the stored configuration
// document. The underlying map is shared with the document, so mutations
// made through the record (assigned_ip only) are visible when the document
// is written back. Fields this package does not know about pass through
// untouched.
type Record struct {
	m map[string]any
}

// NewRecord wraps a raw node mapping.
func NewRecord(m map[string]any) Record {
	if m == nil {
		m = map[string]any{}
	}
	return Record{m: m}
}

// Raw exposes the underlying mapping for persistence.
func (r Record) Raw() map[string]any { return r.m }

// Name returns the node's name, the natural key for lookups.
func (r Record) Name() string { return r.stringField("name") }

// NodeID returns the platform-assigned node identifier.
func (r Record) NodeID() string { return r.stringField("node_id") }

// Status returns the node's last recorded lifecycle status.
func (r Record) Status() string { return r.stringField("status") }

// ConsoleType returns the recorded console protocol, e.g. "telnet".
func (r Record) ConsoleType() string { return r.stringField("console_type") }

// ConsoleHost returns the recorded console host, which may be the
// "0.0.0.0" placeholder and must be normalized before use.
func (r Record) ConsoleHost() string { return r.stringField("console_host") }

// ConsolePort returns the node's console port. The stored value may be a
// JSON number or a quoted string; anything that does not parse to a
// positive integer means the node has no usable console.
func (r Record) ConsolePort() (int, bool) {
	switch v := r.m["console"].(type) {
	case float64:
		if v == math.Trunc(v) && v > 0 {
			return int(v), true
		}
	case int:
		if v > 0 {
			return v, true
		}
	case int64:
		if v > 0 {
			return int(v), true
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return int(n), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// AssignedIP returns the recorded lease address. The second return is
// false when no address is recorded (absent or null).
func (r Record) AssignedIP() (string, bool) {
	v, ok := r.m["assigned_ip"].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// SetAssignedIP records a newly observed lease address and reports whether
// the stored value actually changed.
func (r Record) SetAssignedIP(ip string) bool {
	if cur, ok := r.m["assigned_ip"].(string); ok && cur == ip {
		return false
	}
	r.m["assigned_ip"] = ip
	return true
}

// ClearAssignedIP nulls out the recorded lease address. "No IP" is
// meaningful state, so the key is kept and set to null rather than
// deleted. Reports whether anything changed; a record with no prior
// address is left untouched.
func (r Record) ClearAssignedIP() bool {
	if v, present := r.m["assigned_ip"]; present && v != nil {
		r.m["assigned_ip"] = nil
		return true
	}
	return false
}

// FindByName locates a record by case-insensitive exact name match.
func FindByName(records []Record, name string) (Record, bool) {
	target := strings.ToLower(name)
	for _, rec := range records {
		if strings.ToLower(rec.Name()) == target {
			return rec, true
		}
	}
	return Record{}, false
}

func (r Record) stringField(key string) string {
	if v, ok := r.m[key].(string); ok {
		return v
	}
	return ""
}

// ConsoleTarget is the resolved (host, port) pair used to dial a node's
// console. It is derived, never persisted: console endpoints can move
// between platform restarts, so callers recompute it per operation.
type ConsoleTarget struct {
	Host string
	Port int
}

// ResolveConsoleTarget computes the console endpoint for a stored node
// record. The override host takes priority over the node's own recorded
// console host; loopback is the final fallback. The boolean is false when
// the node has no usable console, a reportable condition rather than an
// error.
func ResolveConsoleTarget(rec Record, overrideHost string) (ConsoleTarget, bool) {
	port, ok := rec.ConsolePort()
	if !ok {
		return ConsoleTarget{}, false
	}
	return ResolveTarget(port, overrideHost, rec.ConsoleHost())
}

// ResolveTarget picks the first usable host among the given candidates,
// appending loopback as the fallback of last resort. Port must be
// positive.
func ResolveTarget(port int, candidates ...string) (ConsoleTarget, bool) {
	if port <= 0 {
		return ConsoleTarget{}, false
	}
	for _, candidate := range append(candidates, "127.0.0.1") {
		if host := NormalizeHost(candidate); host != "" {
			return ConsoleTarget{Host: host, Port: port}, true
		}
	}
	return ConsoleTarget{}, false
}

// NormalizeHost reduces a console host candidate to a bare hostname or
// address. URL forms lose their scheme, user-info, port, and path;
// bracketed IPv6 literals are unwrapped. The empty string and the
// "0.0.0.0" listen-anywhere placeholder are not usable hosts and
// normalize to "".
func NormalizeHost(value string) string {
	host := strings.TrimSpace(value)
	if host == "" {
		return ""
	}

	if u, err := url.Parse(host); err == nil && u.Host != "" {
		if h := u.Hostname(); h != "" {
			host = h
		}
	} else {
		raw := host
		if i := strings.Index(raw, "//"); i >= 0 {
			raw = raw[i+2:]
		}
		if i := strings.IndexByte(raw, '/'); i >= 0 {
			raw = raw[:i]
		}
		if strings.HasPrefix(raw, "[") {
			if i := strings.IndexByte(raw, ']'); i > 0 {
				raw = raw[1:i]
			}
		} else if i := strings.IndexByte(raw, ':'); i >= 0 {
			raw = raw[:i]
		}
		host = raw
	}

	host = strings.TrimSpace(host)
	if host == "" || host == "0.0.0.0" {
		return ""
	}
	return host
}
