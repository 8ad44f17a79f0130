package nodes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHost(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"192.168.1.10", "192.168.1.10"},
		{"192.168.1.10:5000", "192.168.1.10"},
		{"  192.168.1.10  ", "192.168.1.10"},
		{"http://192.168.1.10", "192.168.1.10"},
		{"http://user@gns3.lab:3080/v2", "gns3.lab"},
		{"telnet://10.0.0.1:5001", "10.0.0.1"},
		{"[::1]", "::1"},
		{"[2001:db8::1]:5000", "2001:db8::1"},
		{"gns3.lab", "gns3.lab"},
		{"0.0.0.0", ""},
		{"0.0.0.0:5000", ""},
		{"", ""},
		{"   ", ""},
	}

	for _, tc := range testCases {
		got := NormalizeHost(tc.in)
		if got != tc.want {
			t.Errorf("NormalizeHost(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveConsoleTarget_HostPriority(t *testing.T) {
	rec := NewRecord(map[string]any{
		"name":         "Workstation-1",
		"console":      float64(5001),
		"console_host": "192.168.1.20",
	})

	// Override wins over the recorded host.
	target, ok := ResolveConsoleTarget(rec, "10.10.0.2")
	require.True(t, ok)
	assert.Equal(t, ConsoleTarget{Host: "10.10.0.2", Port: 5001}, target)

	// Without an override the recorded host is used.
	target, ok = ResolveConsoleTarget(rec, "")
	require.True(t, ok)
	assert.Equal(t, ConsoleTarget{Host: "192.168.1.20", Port: 5001}, target)
}

func TestResolveConsoleTarget_PlaceholderFallsThrough(t *testing.T) {
	rec := NewRecord(map[string]any{
		"name":         "Workstation-1",
		"console":      "5002",
		"console_host": "0.0.0.0",
	})

	target, ok := ResolveConsoleTarget(rec, "")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", target.Host)
	assert.Equal(t, 5002, target.Port)

	// An unusable override is skipped, not fatal.
	target, ok = ResolveConsoleTarget(rec, "0.0.0.0")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", target.Host)
}

func TestResolveConsoleTarget_NoUsablePort(t *testing.T) {
	testCases := []struct {
		name    string
		console any
	}{
		{"absent", nil},
		{"junk string", "N/A"},
		{"zero", float64(0)},
		{"negative", float64(-1)},
	}

	for _, tc := range testCases {
		m := map[string]any{"name": "X", "console_host": "192.168.1.20"}
		if tc.console != nil {
			m["console"] = tc.console
		}
		_, ok := ResolveConsoleTarget(NewRecord(m), "")
		if ok {
			t.Errorf("%s: expected no target", tc.name)
		}
	}
}

func TestRecord_ConsolePortFromJSON(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"name":"n","console":5900}`), &doc))

	port, ok := NewRecord(doc).ConsolePort()
	require.True(t, ok)
	assert.Equal(t, 5900, port)
}

func TestRecord_AssignedIPLifecycle(t *testing.T) {
	rec := NewRecord(map[string]any{"name": "client-1"})

	_, ok := rec.AssignedIP()
	assert.False(t, ok)

	// First observation is a change.
	assert.True(t, rec.SetAssignedIP("10.0.0.5"))
	ip, ok := rec.AssignedIP()
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", ip)

	// Same value again is not.
	assert.False(t, rec.SetAssignedIP("10.0.0.5"))

	// A different lease is.
	assert.True(t, rec.SetAssignedIP("10.0.0.6"))

	// Clearing a held address nulls the key but keeps it present.
	assert.True(t, rec.ClearAssignedIP())
	_, ok = rec.AssignedIP()
	assert.False(t, ok)
	v, present := rec.Raw()["assigned_ip"]
	require.True(t, present)
	assert.Nil(t, v)

	// Clearing again is a no-op.
	assert.False(t, rec.ClearAssignedIP())
}

func TestRecord_ClearAssignedIPAbsent(t *testing.T) {
	rec := NewRecord(map[string]any{"name": "client-1"})

	if rec.ClearAssignedIP() {
		t.Error("clearing a record with no address should not report a change")
	}
	if _, present := rec.Raw()["assigned_ip"]; present {
		t.Error("clearing a record with no address should not create the key")
	}
}

func TestFindByName(t *testing.T) {
	records := []Record{
		NewRecord(map[string]any{"name": "DHCP-Server-1"}),
		NewRecord(map[string]any{"name": "Workstation-1"}),
	}

	rec, ok := FindByName(records, "workstation-1")
	require.True(t, ok)
	assert.Equal(t, "Workstation-1", rec.Name())

	_, ok = FindByName(records, "missing")
	assert.False(t, ok)
}
