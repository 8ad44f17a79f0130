// Package configstore reads and writes the generated topology
// configuration document shared by the CLI tools and the API.
package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/nodes"
)

// ErrNotFound is returned by Load when the config file does not exist.
var ErrNotFound = errors.New("config file not found")

// BackupSuffix replaces the file extension when a backup is taken.
const BackupSuffix = ".backup.json"

// Store manages one configuration file on disk. Writes replace the file
// atomically so a crashed run never leaves a half-written document behind.
type Store struct {
	path string
}

// New returns a store for the given file path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the file this store manages.
func (s *Store) Path() string { return s.path }

// Load parses the configuration document. A missing file reports
// ErrNotFound; content that is not a JSON object is an error.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("read config %s: %w", s.path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config %s must contain a JSON object: %w", s.path, err)
	}
	return &Document{raw: raw}, nil
}

// Write persists the document: marshal to a temp file in the same
// directory, then rename over the target.
func (s *Store) Write(doc *Document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(doc.raw, "", "    ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace config %s: %w", s.path, err)
	}
	return nil
}

// Backup copies the current file next to itself with the backup suffix
// replacing the extension. A missing source is tolerated; the would-be
// backup path is returned either way.
func (s *Store) Backup() (string, error) {
	backupPath := withSuffix(s.path, BackupSuffix)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return backupPath, nil
		}
		return backupPath, fmt.Errorf("read config for backup: %w", err)
	}
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return backupPath, fmt.Errorf("write backup %s: %w", backupPath, err)
	}
	return backupPath, nil
}

func withSuffix(path, suffix string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + suffix
}

// Document is a loaded configuration file. The raw mapping is retained so
// fields this service does not model survive a load/write round trip.
type Document struct {
	raw map[string]any
}

// NewDocument builds an empty document, useful for tests and cache files.
func NewDocument() *Document {
	return &Document{raw: map[string]any{}}
}

// FromMap wraps an existing raw mapping.
func FromMap(raw map[string]any) *Document {
	if raw == nil {
		raw = map[string]any{}
	}
	return &Document{raw: raw}
}

// Raw exposes the underlying mapping.
func (d *Document) Raw() map[string]any { return d.raw }

// Set stores a top-level value.
func (d *Document) Set(key string, value any) { d.raw[key] = value }

// ProjectName returns the recorded project name, if any.
func (d *Document) ProjectName() string { return d.stringField("project_name") }

// ProjectID returns the recorded platform project identifier.
func (d *Document) ProjectID() string { return d.stringField("project_id") }

// ServerIP returns the recorded GNS3 server address.
func (d *Document) ServerIP() string { return d.stringField("gns3_server_ip") }

// Nodes returns the node records. The second return is false when the
// document carries no usable "nodes" list at all, as opposed to an empty
// one. Entries that are not JSON objects are skipped.
func (d *Document) Nodes() ([]nodes.Record, bool) {
	list, ok := d.raw["nodes"].([]any)
	if !ok {
		return nil, false
	}
	records := make([]nodes.Record, 0, len(list))
	for _, entry := range list {
		if m, ok := entry.(map[string]any); ok {
			records = append(records, nodes.NewRecord(m))
		}
	}
	return records, true
}

func (d *Document) stringField(key string) string {
	if v, ok := d.raw[key].(string); ok {
		return v
	}
	return ""
}
