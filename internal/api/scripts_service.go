package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/configstore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/nodes"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/scripts"
)

// NodeRecords implements ScriptsService. The config file is re-read on
// every request so a regenerated topology is picked up without a
// restart.
func (a *API) NodeRecords() ([]nodes.Record, error) {
	store := configstore.New(a.settings.ConfigPath)
	doc, err := store.Load()
	if err != nil {
		return nil, err
	}
	records, ok := doc.Nodes()
	if !ok {
		return nil, fmt.Errorf("config %s has no nodes list", store.Path())
	}
	return records, nil
}

// ScriptContent implements ScriptsService. Relative paths resolve
// under the configured scripts directory.
func (a *API) ScriptContent(localPath string) ([]byte, error) {
	path := localPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.settings.ScriptsDir, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script %s: %w", path, err)
	}
	return content, nil
}

// RunScripts implements ScriptsService.
func (a *API) RunScripts(ctx context.Context, tasks []scripts.RunTask, concurrency int) []scripts.Execution {
	return scripts.NewRunner(a.logger).RunMany(ctx, tasks, concurrency)
}

// PushScripts implements ScriptsService.
func (a *API) PushScripts(ctx context.Context, tasks []scripts.Task, concurrency int) []scripts.PushResult {
	return scripts.NewRunner(a.logger).PushMany(ctx, tasks, concurrency)
}
