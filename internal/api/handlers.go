package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/emberwallet/network-go/pkg/network"
)

// balanceTimeout bounds the one handler that dispatches to the endpoint.
// Everything else answers from controller state.
const balanceTimeout = 10 * time.Second

type setInfuraRequest struct {
	Type     string `json:"type" binding:"required"`
	Ticker   string `json:"ticker"`
	Nickname string `json:"nickname"`
}

type setCustomRequest struct {
	RPCURL           string `json:"rpcUrl" binding:"required"`
	ChainID          string `json:"chainId" binding:"required"`
	Ticker           string `json:"ticker"`
	Nickname         string `json:"nickname"`
	BlockExplorerURL string `json:"blockExplorerUrl"`
}

// GetNetwork returns the composed controller snapshot plus the stable
// network identifier.
func (api *APIService) GetNetwork(c *gin.Context) {
	snap := api.controller.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"identifier": api.controller.GetNetworkIdentifier(),
		"snapshot":   snap,
	})
}

// ListNetworks returns the built-in network table.
func (api *APIService) ListNetworks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"networks": network.BuiltinNetworks()})
}

// SetInfuraNetwork switches to a built-in network.
func (api *APIService) SetInfuraNetwork(c *gin.Context) {
	var req setInfuraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var opts []network.ProviderOption
	if req.Ticker != "" {
		opts = append(opts, network.WithTicker(req.Ticker))
	}
	if req.Nickname != "" {
		opts = append(opts, network.WithNickname(req.Nickname))
	}

	if err := api.controller.SetInfuraNetwork(network.EndpointType(req.Type), opts...); err != nil {
		api.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": api.controller.Snapshot()})
}

// SetCustomRPC switches to a user-supplied RPC endpoint.
func (api *APIService) SetCustomRPC(c *gin.Context) {
	var req setCustomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var opts []network.ProviderOption
	if req.Ticker != "" {
		opts = append(opts, network.WithTicker(req.Ticker))
	}
	if req.Nickname != "" {
		opts = append(opts, network.WithNickname(req.Nickname))
	}
	if req.BlockExplorerURL != "" {
		opts = append(opts, network.WithBlockExplorer(req.BlockExplorerURL))
	}

	if err := api.controller.SetCustomRPC(req.RPCURL, req.ChainID, opts...); err != nil {
		api.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": api.controller.Snapshot()})
}

// ResetConnection forces a fresh connection to the current network.
func (api *APIService) ResetConnection(c *gin.Context) {
	if err := api.controller.ResetConnection(); err != nil {
		api.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": api.controller.Snapshot()})
}

// Rollback switches back to the previous network.
func (api *APIService) Rollback(c *gin.Context) {
	if err := api.controller.Rollback(); err != nil {
		api.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": api.controller.Snapshot()})
}

// VerifyNetwork nudges a still-loading network to re-probe.
func (api *APIService) VerifyNetwork(c *gin.Context) {
	api.controller.VerifyNetwork()
	c.JSON(http.StatusOK, gin.H{"status": api.controller.GetNetworkStatus()})
}

// GetHead returns the last head seen through the service's long-lived
// tracker subscription.
func (api *APIService) GetHead(c *gin.Context) {
	api.headMu.RLock()
	head := api.lastHead
	api.headMu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"head": head})
}

// GetBalance dispatches eth_getBalance through the provider proxy, so it
// always hits whichever endpoint is currently active.
func (api *APIService) GetBalance(c *gin.Context) {
	address := c.Param("address")

	ctx, cancel := context.WithTimeout(c.Request.Context(), balanceTimeout)
	defer cancel()

	var balance string
	if err := api.provider.Dispatch(ctx, &balance, "eth_getBalance", address, "latest"); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "balance": balance})
}

// renderError maps controller errors onto HTTP statuses: validation-style
// failures are the caller's fault, anything else is upstream.
func (api *APIService) renderError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	for _, code := range []string{
		network.ErrCodeInvalidChainID,
		network.ErrCodeInvalidRPCURL,
		network.ErrCodeUnknownNetwork,
		network.ErrCodeReservedNetworkType,
		network.ErrCodeProjectIDNotSet,
		network.ErrCodeNoPreviousNetwork,
	} {
		if network.IsNetworkError(err, code) {
			status = http.StatusBadRequest
			break
		}
	}

	api.log.WithField("error", err).Warn("Network operation failed")
	c.JSON(status, gin.H{"error": err.Error()})
}
