package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/dhcp"
)

// DHCPService runs two-phase DHCP assignment over the configured nodes.
type DHCPService interface {
	AssignAddresses(ctx context.Context, opts dhcp.Options) (*dhcp.AssignResult, error)
}

// DHCP groups the DHCP handlers for testability.
type DHCP struct {
	service DHCPService
	logger  *zap.Logger
}

func NewDHCP(service DHCPService, logger *zap.Logger) *DHCP {
	return &DHCP{service: service, logger: logger}
}

// DHCPAssignRequest tunes one assignment run. Absent fields select the
// defaults; timeouts are given in seconds.
type DHCPAssignRequest struct {
	GNS3ServerIP    string   `json:"gns3_server_ip,omitempty"`
	DHClientTimeout *float64 `json:"dhclient_timeout,omitempty"`
	DHCPWarmup      *float64 `json:"dhcp_warmup,omitempty"`
}

const (
	defaultDHClientTimeout = 15 * time.Second
	defaultDHCPWarmup      = 2 * time.Second
)

// AssignHandler handles POST /dhcp/assign.
//
// Runs the two-phase assignment: start DHCP server nodes, wait out the
// warmup, then request leases on every client node. Returns the
// per-node results plus whether the node config was rewritten.
func (d *DHCP) AssignHandler(w http.ResponseWriter, r *http.Request) {
	var req DHCPAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, d.logger, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.DHClientTimeout != nil && *req.DHClientTimeout < 1 {
		writeError(w, d.logger, http.StatusBadRequest, "dhclient_timeout must be at least 1 second")
		return
	}
	if req.DHCPWarmup != nil && *req.DHCPWarmup < 0 {
		writeError(w, d.logger, http.StatusBadRequest, "dhcp_warmup cannot be negative")
		return
	}

	opts := dhcp.Options{
		HostOverride:    req.GNS3ServerIP,
		DHClientTimeout: defaultDHClientTimeout,
		Warmup:          defaultDHCPWarmup,
	}
	if req.DHClientTimeout != nil {
		opts.DHClientTimeout = secondsToDuration(*req.DHClientTimeout)
	}
	if req.DHCPWarmup != nil {
		opts.Warmup = secondsToDuration(*req.DHCPWarmup)
	}

	result, err := d.service.AssignAddresses(r.Context(), opts)
	if err != nil {
		d.logger.Error("dhcp assignment failed", zap.Error(err))
		writeError(w, d.logger, http.StatusInternalServerError, "DHCP assignment failed: "+err.Error())
		return
	}

	writeJSON(w, d.logger, http.StatusOK, result)
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
