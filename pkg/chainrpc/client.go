// Package chainrpc builds the concrete transports the network controller
// installs behind its proxies: a JSON-RPC dispatcher and a polling block
// tracker, for Infura-backed networks or arbitrary RPC endpoints.
package chainrpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client dispatches JSON-RPC calls to one endpoint. It implements
// network.Dispatcher. The underlying rpc.Client is lazy for HTTP targets;
// no I/O happens until the first call.
type Client struct {
	rpc     *rpc.Client
	rpcURL  string
	chainID string
	limiter *rate.Limiter
	log     *logrus.Logger
}

// Dispatch forwards one JSON-RPC call and decodes the result into result.
// When a rate limit is configured the call waits for a token first, so a
// burst of consumers cannot hammer the endpoint.
func (c *Client) Dispatch(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait for %s: %w", method, err)
		}
	}

	start := time.Now()
	err := c.rpc.CallContext(ctx, result, method, params...)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"method":   method,
			"chain_id": c.chainID,
			"duration": time.Since(start).String(),
			"error":    sanitizeRPCError(err),
		}).Debug("RPC call failed")
		return fmt.Errorf("rpc call %s failed: %w", method, err)
	}

	c.log.WithFields(logrus.Fields{
		"method":   method,
		"chain_id": c.chainID,
		"duration": time.Since(start).String(),
	}).Debug("RPC call completed")

	return nil
}

// Close releases the underlying rpc client. The controller never calls
// this; superseded connections are dropped and their trackers stop on
// their own. It exists for callers that own a Client directly.
func (c *Client) Close() {
	c.rpc.Close()
}

// sanitizeRPCError trims HTML error payloads some gateways return, keeping
// the status line when one precedes the markup.
func sanitizeRPCError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if idx := strings.Index(strings.ToLower(msg), "<html"); idx >= 0 {
		if idx > 0 {
			return strings.TrimSpace(msg[:idx])
		}
		return "HTTP error response"
	}
	return msg
}
