package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LifecycleEvent names the controller's lifecycle notifications.
type LifecycleEvent string

const (
	// EventNetworkWillChange fires before any state is touched on a
	// switch, carrying the outgoing endpoint type
	EventNetworkWillChange LifecycleEvent = "networkWillChange"
	// EventNetworkDidChange fires after the new connection is installed,
	// carrying the incoming endpoint type
	EventNetworkDidChange LifecycleEvent = "networkDidChange"
)

// LifecycleHandler receives lifecycle events with the relevant endpoint
// type. Handlers run synchronously on the switching goroutine and must
// not call controller mutators.
type LifecycleHandler func(EndpointType)

// Connection is the transport pair produced by a connection factory: a
// request dispatcher and a block tracker for the same endpoint. Superseded
// connections are simply dropped; a detached tracker stops polling on its
// own, so no explicit teardown is required.
type Connection struct {
	Dispatcher Dispatcher
	Tracker    Tracker
}

// ConnectionFactory produces connections for the two endpoint kinds.
// Construction must be lazy: no network I/O until the connection is used.
type ConnectionFactory interface {
	// NewCustomConnection builds a connection to a user-supplied RPC URL.
	NewCustomConnection(rpcURL string, chainID string) (Connection, error)
	// NewInfuraConnection builds a connection to a built-in Infura
	// network. Calling it with a type outside the built-in table is a
	// programmer error and panics.
	NewInfuraConnection(network EndpointType, projectID string) (Connection, error)
}

// Config holds the dependencies and initial state for a Controller.
type Config struct {
	// Factory produces connections. Required.
	Factory ConnectionFactory

	// Logger for controller operations. Defaults to a standard logger when nil.
	Logger *logrus.Logger

	// Provider is the initial configuration. Defaults to the mainnet
	// built-in when nil.
	Provider *ProviderConfig

	// InfuraProjectID is the credential attached to built-in network
	// requests. May be set later with SetInfuraProjectID, but every
	// Infura switch fails until it is non-empty.
	InfuraProjectID string
}

func validateConfig(config *Config) error {
	if config.Factory == nil {
		return fmt.Errorf("connection factory is required")
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Provider == nil {
		mainnet := builtinNetworks[TypeMainnet]
		config.Provider = &ProviderConfig{
			Type:    mainnet.Type,
			ChainID: mainnet.ChainID,
			Ticker:  mainnet.Ticker,
		}
	}
	if config.Provider.Type == TypeRPC {
		if err := ValidateChainID(config.Provider.ChainID); err != nil {
			return err
		}
		if err := ValidateRPCURL(config.Provider.RPCURL); err != nil {
			return err
		}
	} else if _, ok := builtinNetworks[config.Provider.Type]; !ok {
		return NewNetworkError(
			ErrCodeUnknownNetwork,
			fmt.Sprintf("unknown network type %q", config.Provider.Type),
			nil,
			config.Provider.Type,
		)
	}
	return nil
}

// Controller owns the active endpoint configuration. It switches between
// Infura-backed and custom RPC endpoints, installs each new connection
// behind stable proxy handles, and verifies liveness of whatever it is
// connected to.
//
// One mutex serializes every switch and every probe-result application.
// Liveness probes run in their own goroutines, re-acquire the mutex to
// apply their result, and discard it if the status changed while they
// were in flight (see probe).
type Controller struct {
	mu sync.Mutex

	store   *Store
	factory ConnectionFactory
	log     *logrus.Logger

	projectID string

	// Created once at construction; only their targets ever change.
	providerProxy *ProviderProxy
	trackerProxy  *BlockTrackerProxy

	handlersMu sync.Mutex
	handlers   map[LifecycleEvent]map[int]LifecycleHandler
	nextHandle int
}

// NewController creates a controller and connects it to its initial
// configuration. The controller subscribes itself to its own DidChange
// event once, here, so every switch automatically re-verifies liveness.
func NewController(config Config) (*Controller, error) {
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	c := &Controller{
		store:         NewStore(*config.Provider),
		factory:       config.Factory,
		log:           config.Logger,
		projectID:     config.InfuraProjectID,
		providerProxy: NewProviderProxy(nil),
		trackerProxy:  NewBlockTrackerProxy(nil),
		handlers:      make(map[LifecycleEvent]map[int]LifecycleHandler),
	}

	c.On(EventNetworkDidChange, func(EndpointType) {
		// Runs inside switchLocked, which already holds the mutex.
		c.lookupNetworkLocked()
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.switchLocked(*config.Provider, false); err != nil {
		return nil, err
	}
	return c, nil
}

// On registers a handler for a lifecycle event and returns a function
// that removes it.
func (c *Controller) On(event LifecycleEvent, fn LifecycleHandler) func() {
	c.handlersMu.Lock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]LifecycleHandler)
	}
	id := c.nextHandle
	c.nextHandle++
	c.handlers[event][id] = fn
	c.handlersMu.Unlock()

	return func() {
		c.handlersMu.Lock()
		delete(c.handlers[event], id)
		c.handlersMu.Unlock()
	}
}

func (c *Controller) emit(event LifecycleEvent, network EndpointType) {
	c.handlersMu.Lock()
	fns := make([]LifecycleHandler, 0, len(c.handlers[event]))
	for _, fn := range c.handlers[event] {
		fns = append(fns, fn)
	}
	c.handlersMu.Unlock()

	for _, fn := range fns {
		fn(network)
	}
}

// SetInfuraProjectID configures the credential attached to built-in
// network requests. It does not touch the active connection; call
// SetInfuraNetwork or ResetConnection afterwards to apply it.
func (c *Controller) SetInfuraProjectID(id string) {
	c.mu.Lock()
	c.projectID = id
	c.mu.Unlock()
}

// SetCustomRPC switches the controller to a user-supplied RPC endpoint.
// The chain ID and URL are validated before any state changes; on a
// validation error the active configuration is untouched.
func (c *Controller) SetCustomRPC(rpcURL string, chainID string, opts ...ProviderOption) error {
	if err := ValidateChainID(chainID); err != nil {
		return err
	}
	if err := ValidateRPCURL(rpcURL); err != nil {
		return err
	}

	cfg := ProviderConfig{
		Type:    TypeRPC,
		RPCURL:  rpcURL,
		ChainID: chainID,
		Ticker:  "ETH",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switchLocked(cfg, true)
}

// SetInfuraNetwork switches the controller to one of the built-in Infura
// networks. The chain ID and ticker always come from the built-in table;
// TypeRPC is rejected here even though it is a known type, since custom
// endpoints must go through SetCustomRPC with an explicit chain ID.
func (c *Controller) SetInfuraNetwork(network EndpointType, opts ...ProviderOption) error {
	if network == TypeRPC {
		return NewNetworkError(
			ErrCodeReservedNetworkType,
			"type \"rpc\" is reserved for custom endpoints; use SetCustomRPC",
			nil,
			network,
		)
	}

	builtin, ok := builtinNetworks[network]
	if !ok {
		return NewNetworkError(
			ErrCodeUnknownNetwork,
			fmt.Sprintf("unknown network type %q", network),
			nil,
			network,
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.projectID == "" {
		return NewNetworkError(
			ErrCodeProjectIDNotSet,
			"no Infura project ID configured",
			nil,
			network,
		)
	}

	cfg := ProviderConfig{
		Type:    builtin.Type,
		ChainID: builtin.ChainID,
		Ticker:  builtin.Ticker,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	// Display options never override the canonical chain ID.
	cfg.ChainID = builtin.ChainID

	return c.switchLocked(cfg, true)
}

// ResetConnection re-applies the current configuration with a fresh
// connection. Used to recover from a stuck loading state without changing
// network identity; it does not write the history slot.
func (c *Controller) ResetConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switchLocked(c.store.GetProvider(), false)
}

// Rollback re-applies the retained previous configuration as the new
// current configuration. It deliberately does not push the abandoned
// config into history, so this is a single-level undo with no redo:
// rolling back twice lands on the same configuration both times.
func (c *Controller) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.store.GetPreviousProvider()
	if previous == (ProviderConfig{}) {
		return NewNetworkError(
			ErrCodeNoPreviousNetwork,
			"no previous network to roll back to",
			nil,
			"",
		)
	}

	return c.switchLocked(previous, false)
}

// switchLocked is the switch algorithm. Callers hold c.mu and have
// already validated cfg.
//
//  1. resolve cfg to a connection via the factory; a factory error
//     aborts the switch before any state or event is touched, so the
//     active connection and its status survive intact
//  2. emit NetworkWillChange with the outgoing type
//  3. status -> loading, details cleared
//  4. swap the connection into the proxies; consumers keep their handles
//  5. emit NetworkDidChange with the incoming type, which triggers a
//     liveness probe through the standing self-subscription
func (c *Controller) switchLocked(cfg ProviderConfig, recordHistory bool) error {
	conn, err := c.connect(cfg)
	if err != nil {
		return err
	}

	outgoing := c.store.GetProvider()
	c.emit(EventNetworkWillChange, outgoing.Type)

	c.store.SetStatus(NetworkStatus{Status: StatusLoading})
	c.store.SetDetails(NetworkDetails{})

	if recordHistory {
		c.store.SetPreviousProvider(outgoing)
	}
	c.store.SetProvider(cfg)

	c.providerProxy.SetTarget(conn.Dispatcher)
	c.trackerProxy.SetTarget(conn.Tracker)

	c.log.WithFields(logrus.Fields{
		"network":  cfg.Type,
		"chain_id": cfg.ChainID,
		"rpc_url":  cfg.RPCURL,
	}).Info("Switched network")

	c.emit(EventNetworkDidChange, cfg.Type)
	return nil
}

// connect resolves a validated config to a connection. An unrecognized
// type reaching this point means a setter skipped validation, which is a
// programming defect, not a runtime condition.
func (c *Controller) connect(cfg ProviderConfig) (Connection, error) {
	switch {
	case cfg.Type == TypeRPC:
		conn, err := c.factory.NewCustomConnection(cfg.RPCURL, cfg.ChainID)
		if err != nil {
			return Connection{}, NewNetworkError(
				ErrCodeConnectionFailed,
				"failed to build custom RPC connection",
				err,
				cfg.Type,
			)
		}
		return conn, nil
	default:
		if _, ok := builtinNetworks[cfg.Type]; !ok {
			panic(fmt.Sprintf("network: unreachable endpoint type %q", cfg.Type))
		}
		conn, err := c.factory.NewInfuraConnection(cfg.Type, c.projectID)
		if err != nil {
			return Connection{}, NewNetworkError(
				ErrCodeConnectionFailed,
				"failed to build Infura connection",
				err,
				cfg.Type,
			)
		}
		return conn, nil
	}
}

// VerifyNetwork triggers a liveness probe, but only when the status is
// still loading. Called by consumers to nudge a network that has not
// confirmed yet; an available network is left alone.
func (c *Controller) VerifyNetwork() {
	if c.store.GetStatus().Status != StatusLoading {
		return
	}
	c.LookupNetwork()
}

// LookupNetwork probes the active endpoint for its network version and
// resolves the status to available on success. Probe failures keep the
// status at loading; consumers observe status rather than receive errors.
func (c *Controller) LookupNetwork() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookupNetworkLocked()
}

// lookupNetworkLocked starts the race-guarded liveness probe. Callers
// hold c.mu.
//
// The probe snapshots the status before issuing the request and discards
// its own result if the status changed while it was in flight, so a slow
// stale probe never clobbers the result of a newer one. Superseded probes
// are not cancelled; they run to completion and self-discard. No timeout
// is imposed either: a hung endpoint leaves the status at loading until
// VerifyNetwork or another switch.
func (c *Controller) lookupNetworkLocked() {
	if !c.providerProxy.hasTarget() {
		// Nothing installed yet; the post-switch lookup will run.
		return
	}

	cfg := c.store.GetProvider()
	if c.usableChainID(cfg) == "" {
		c.store.SetStatus(NetworkStatus{Status: StatusLoading})
		return
	}

	before := c.store.GetStatus()
	probeID := uuid.New().String()

	c.log.WithFields(logrus.Fields{
		"network":  cfg.Type,
		"chain_id": cfg.ChainID,
		"probe_id": probeID,
	}).Debug("Probing network")

	go c.probe(before, probeID)
}

// probe is the goroutine half of lookupNetworkLocked.
func (c *Controller) probe(before NetworkStatus, probeID string) {
	var version string
	err := c.providerProxy.Dispatch(context.Background(), &version, "net_version")

	var details NetworkDetails
	if err == nil {
		details = c.detectDetails(probeID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	after := c.store.GetStatus()
	if after != before {
		// A newer switch or probe already resolved; this result is stale.
		c.log.WithField("probe_id", probeID).Debug("Discarding stale probe result")
		return
	}

	if err != nil {
		c.log.WithFields(logrus.Fields{
			"probe_id": probeID,
			"error":    err,
		}).Debug("Network probe failed, still loading")
		c.store.SetStatus(NetworkStatus{Status: StatusLoading})
		return
	}

	c.store.SetStatus(NetworkStatus{Status: StatusAvailable, NetworkVersion: version})
	c.store.SetDetails(details)

	c.log.WithFields(logrus.Fields{
		"probe_id":        probeID,
		"network_version": version,
	}).Debug("Network available")
}

// detectDetails checks the latest block for EIP-1559 support. Detection
// failures are not probe failures; they just leave the support flag unset.
func (c *Controller) detectDetails(probeID string) NetworkDetails {
	var block struct {
		BaseFeePerGas *string `json:"baseFeePerGas"`
	}
	if err := c.providerProxy.Dispatch(context.Background(), &block, "eth_getBlockByNumber", "latest", false); err != nil {
		c.log.WithFields(logrus.Fields{
			"probe_id": probeID,
			"error":    err,
		}).Debug("EIP-1559 detection failed")
		return NetworkDetails{}
	}
	supported := block.BaseFeePerGas != nil
	return NetworkDetails{EIP1559Support: &supported}
}

// usableChainID returns the chain ID the active config resolves to, or
// empty when neither a built-in default nor an explicit custom chain ID
// exists.
func (c *Controller) usableChainID(cfg ProviderConfig) string {
	if cfg.Type != TypeRPC {
		if builtin, ok := builtinNetworks[cfg.Type]; ok {
			return builtin.ChainID
		}
		return ""
	}
	return cfg.ChainID
}

// GetProviderConfig returns the active provider configuration.
func (c *Controller) GetProviderConfig() ProviderConfig {
	return c.store.GetProvider()
}

// GetPreviousProviderConfig returns the retained previous configuration.
func (c *Controller) GetPreviousProviderConfig() ProviderConfig {
	return c.store.GetPreviousProvider()
}

// GetNetworkStatus returns the current liveness status.
func (c *Controller) GetNetworkStatus() NetworkStatus {
	return c.store.GetStatus()
}

// GetNetworkDetails returns the detected network capabilities.
func (c *Controller) GetNetworkDetails() NetworkDetails {
	return c.store.GetDetails()
}

// GetNetworkIdentifier returns a stable identifier for the active
// network: the RPC URL for custom endpoints, else the network name. Used
// for equality and display, not routing.
func (c *Controller) GetNetworkIdentifier() string {
	cfg := c.store.GetProvider()
	if cfg.Type == TypeRPC {
		return cfg.RPCURL
	}
	return string(cfg.Type)
}

// GetProviderAndBlockTracker returns the two stable proxy handles.
// Intended to be acquired once and held for the process lifetime; the
// handles survive every network switch.
func (c *Controller) GetProviderAndBlockTracker() (*ProviderProxy, *BlockTrackerProxy) {
	return c.providerProxy, c.trackerProxy
}

// Snapshot returns a composed read of the controller's observable state.
func (c *Controller) Snapshot() Snapshot {
	return c.store.Snapshot()
}

// Watch registers a callback on every state change. See Store.Watch.
func (c *Controller) Watch(fn func(Change)) func() {
	return c.store.Watch(fn)
}
