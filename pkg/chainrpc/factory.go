package chainrpc

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/emberwallet/network-go/pkg/network"
)

// DefaultPollInterval is the head-poll cadence used when a factory is
// configured without one.
const DefaultPollInterval = 8 * time.Second

// FactoryConfig holds the settings shared by every connection a Factory
// produces.
type FactoryConfig struct {
	// Logger for connection operations. Defaults to a standard logger when nil.
	Logger *logrus.Logger

	// PollInterval is the block tracker's polling cadence. Defaults to
	// DefaultPollInterval.
	PollInterval time.Duration

	// RequestsPerSecond caps the dispatch rate per connection. Zero
	// means unlimited.
	RequestsPerSecond float64
}

// Factory builds connections for the network controller. It implements
// network.ConnectionFactory. Construction is lazy: no network I/O happens
// until a connection's dispatcher or tracker is first used.
type Factory struct {
	log               *logrus.Logger
	pollInterval      time.Duration
	requestsPerSecond float64
}

// NewFactory creates a connection factory.
func NewFactory(config FactoryConfig) *Factory {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	return &Factory{
		log:               config.Logger,
		pollInterval:      config.PollInterval,
		requestsPerSecond: config.RequestsPerSecond,
	}
}

// NewCustomConnection builds a connection to a user-supplied RPC URL,
// used verbatim. The chain ID is carried for log context only; the
// controller has already validated it.
func (f *Factory) NewCustomConnection(rpcURL string, chainID string) (network.Connection, error) {
	return f.connect(rpcURL, chainID)
}

// NewInfuraConnection builds a connection to a built-in Infura network,
// resolving the upstream host from the network name and attaching the
// caller's project ID.
//
// The set of valid names is closed and validated by the controller;
// calling this with anything else is a programmer error and panics.
func (f *Factory) NewInfuraConnection(networkType network.EndpointType, projectID string) (network.Connection, error) {
	builtin, ok := network.LookupBuiltin(networkType)
	if !ok {
		panic(fmt.Sprintf("chainrpc: no Infura host for network type %q", networkType))
	}
	url := fmt.Sprintf("https://%s.infura.io/v3/%s", networkType, projectID)
	return f.connect(url, builtin.ChainID)
}

func (f *Factory) connect(rpcURL string, chainID string) (network.Connection, error) {
	// rpc.Dial does not touch the wire for http(s) targets; the first
	// request does.
	rpcClient, err := rpc.Dial(rpcURL)
	if err != nil {
		return network.Connection{}, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}

	var limiter *rate.Limiter
	if f.requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(f.requestsPerSecond), 1)
	}

	client := &Client{
		rpc:     rpcClient,
		rpcURL:  rpcURL,
		chainID: chainID,
		limiter: limiter,
		log:     f.log,
	}
	tracker := NewPollingBlockTracker(client, f.pollInterval, f.log)

	return network.Connection{Dispatcher: client, Tracker: tracker}, nil
}
