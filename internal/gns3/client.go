// Package gns3 is a thin client for the GNS3 controller v2 REST API.
// It covers only the operations the provisioning layers consume: project
// and template lookup, node/link lifecycle, and bulk start/stop.
package gns3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/metrics"
)

// APIError is returned for responses with status >= 400. It keeps the
// status code so callers can branch on it (e.g. bulk-start fallback).
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gns3 API %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with one of the given codes.
func IsStatus(err error, codes ...int) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.StatusCode == code {
			return true
		}
	}
	return false
}

// Client wraps the GNS3 v2 REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	limiter    *rate.Limiter
}

// New creates a GNS3 API client. Basic auth is sent only when both
// username and password are non-empty. requestDelay > 0 paces requests so
// a burst of node/link calls does not overwhelm the controller.
func New(baseURL, username, password string, requestDelay time.Duration) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
	}
	if requestDelay > 0 {
		c.limiter = rate.NewLimiter(rate.Every(requestDelay), 1)
	}
	return c
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListProjects retrieves all projects on the server.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.doJSON(ctx, http.MethodGet, "/v2/projects", nil, &projects); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// FindProjectID resolves a project name to its ID.
func (c *Client) FindProjectID(ctx context.Context, name string) (string, error) {
	projects, err := c.ListProjects(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range projects {
		if p.Name == name {
			return p.ProjectID, nil
		}
	}
	return "", fmt.Errorf("project %q not found", name)
}

// GetProject retrieves a single project, including its open/closed status.
func (c *Client) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	path := fmt.Sprintf("/v2/projects/%s", projectID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &project); err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	return &project, nil
}

// OpenProject asks the server to open a project. Opening is asynchronous;
// poll GetProject until Status is "opened".
func (c *Client) OpenProject(ctx context.Context, projectID string) error {
	path := fmt.Sprintf("/v2/projects/%s/open", projectID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("open project %s: %w", projectID, err)
	}
	return nil
}

// ListTemplates retrieves all node templates registered on the server.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var templates []Template
	if err := c.doJSON(ctx, http.MethodGet, "/v2/templates", nil, &templates); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// ListNodes retrieves all nodes in a project.
func (c *Client) ListNodes(ctx context.Context, projectID string) ([]Node, error) {
	var nodes []Node
	path := fmt.Sprintf("/v2/projects/%s/nodes", projectID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &nodes); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return nodes, nil
}

// GetNode retrieves a single node, refreshing console and status fields.
func (c *Client) GetNode(ctx context.Context, projectID, nodeID string) (*Node, error) {
	var node Node
	path := fmt.Sprintf("/v2/projects/%s/nodes/%s", projectID, nodeID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &node); err != nil {
		return nil, fmt.Errorf("get node %s: %w", nodeID, err)
	}
	return &node, nil
}

// AddNodeFromTemplate instantiates a template into the project at the
// given canvas position.
func (c *Client) AddNodeFromTemplate(ctx context.Context, projectID, templateID, name string, x, y int) (*Node, error) {
	payload := map[string]any{"x": x, "y": y, "name": name}
	var node Node
	path := fmt.Sprintf("/v2/projects/%s/templates/%s", projectID, templateID)
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &node); err != nil {
		return nil, fmt.Errorf("create node %q from template %s: %w", name, templateID, err)
	}
	if node.NodeID == "" {
		return nil, fmt.Errorf("create node %q: response missing node_id", name)
	}
	return &node, nil
}

// CreateLink wires two endpoints together.
func (c *Client) CreateLink(ctx context.Context, projectID string, a, b LinkEndpoint) (*Link, error) {
	payload := map[string]any{"nodes": []LinkEndpoint{a, b}}
	var link Link
	path := fmt.Sprintf("/v2/projects/%s/links", projectID)
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &link); err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}
	return &link, nil
}

// ListLinks retrieves all links in a project.
func (c *Client) ListLinks(ctx context.Context, projectID string) ([]Link, error) {
	var links []Link
	path := fmt.Sprintf("/v2/projects/%s/links", projectID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &links); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

// DeleteLink removes a link from a project.
func (c *Client) DeleteLink(ctx context.Context, projectID, linkID string) error {
	path := fmt.Sprintf("/v2/projects/%s/links/%s", projectID, linkID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete link %s: %w", linkID, err)
	}
	return nil
}

// StartNode starts a single node.
func (c *Client) StartNode(ctx context.Context, projectID, nodeID string) error {
	path := fmt.Sprintf("/v2/projects/%s/nodes/%s/start", projectID, nodeID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("start node %s: %w", nodeID, err)
	}
	return nil
}

// StartAllNodes starts every node in the project in one call. Older
// controllers answer 404/405/501 here; use IsStatus and fall back to
// per-node StartNode.
func (c *Client) StartAllNodes(ctx context.Context, projectID string) error {
	path := fmt.Sprintf("/v2/projects/%s/nodes/start", projectID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("start all nodes: %w", err)
	}
	return nil
}

// StopAllNodes stops every node in the project.
func (c *Client) StopAllNodes(ctx context.Context, projectID string) error {
	path := fmt.Sprintf("/v2/projects/%s/nodes/stop", projectID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("stop all nodes: %w", err)
	}
	return nil
}

// DeleteNode removes a node from a project.
func (c *Client) DeleteNode(ctx context.Context, projectID, nodeID string) error {
	path := fmt.Sprintf("/v2/projects/%s/nodes/%s", projectID, nodeID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete node %s: %w", nodeID, err)
	}
	return nil
}

// DeleteAllNodes clears a project: stop everything, remove links, then
// remove nodes. Individual failures are collected into the Teardown so
// one stuck node does not leave the rest of the project behind. Listing
// failures are fatal since nothing can proceed without the inventory.
func (c *Client) DeleteAllNodes(ctx context.Context, projectID string) (*Teardown, error) {
	result := &Teardown{}

	if err := c.StopAllNodes(ctx, projectID); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("stop all nodes: %v", err))
	}

	links, err := c.ListLinks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if err := c.DeleteLink(ctx, projectID, link.LinkID); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.LinksDeleted++
	}

	nodes, err := c.ListNodes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if err := c.DeleteNode(ctx, projectID, node.NodeID); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.NodesDeleted++
	}

	return result, nil
}

// doJSON performs an HTTP request with JSON serialization/deserialization.
func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.PlatformRequestsTotal.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("http %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	metrics.PlatformRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
