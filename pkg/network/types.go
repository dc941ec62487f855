// Package network owns the active blockchain endpoint configuration for the
// wallet node. It switches between Infura-backed and user-supplied RPC
// endpoints, swaps the live connection without breaking consumers that hold
// a long-lived provider reference, and continuously verifies liveness of the
// chain it is connected to.
package network

// EndpointType identifies which kind of endpoint a provider configuration
// points at: one of the built-in Infura networks, or an arbitrary RPC URL.
type EndpointType string

const (
	// TypeMainnet is the Ethereum mainnet served through Infura
	TypeMainnet EndpointType = "mainnet"
	// TypeSepolia is the Sepolia testnet served through Infura
	TypeSepolia EndpointType = "sepolia"
	// TypeHolesky is the Holesky testnet served through Infura
	TypeHolesky EndpointType = "holesky"
	// TypeLinea is the Linea mainnet served through Infura
	TypeLinea EndpointType = "linea-mainnet"
	// TypeRPC is a user-supplied RPC endpoint. It is reserved for
	// SetCustomRPC and is never a valid argument to SetInfuraNetwork.
	TypeRPC EndpointType = "rpc"
)

// BuiltinNetwork describes one entry of the closed built-in network table.
// Chain IDs here are canonical and never user-supplied.
type BuiltinNetwork struct {
	Type        EndpointType
	ChainID     string
	Ticker      string
	DisplayName string
}

// builtinNetworks is the closed table of networks reachable through Infura.
// SetInfuraNetwork validates against it; the connection factory resolves
// hosts from the same set of names.
var builtinNetworks = map[EndpointType]BuiltinNetwork{
	TypeMainnet: {Type: TypeMainnet, ChainID: "0x1", Ticker: "ETH", DisplayName: "Ethereum Mainnet"},
	TypeSepolia: {Type: TypeSepolia, ChainID: "0xaa36a7", Ticker: "SepoliaETH", DisplayName: "Sepolia"},
	TypeHolesky: {Type: TypeHolesky, ChainID: "0x4268", Ticker: "HoleskyETH", DisplayName: "Holesky"},
	TypeLinea:   {Type: TypeLinea, ChainID: "0xe708", Ticker: "ETH", DisplayName: "Linea Mainnet"},
}

// builtinOrder fixes the listing order for BuiltinNetworks.
var builtinOrder = []EndpointType{TypeMainnet, TypeSepolia, TypeHolesky, TypeLinea}

// BuiltinNetworks returns the built-in network table in a stable order.
func BuiltinNetworks() []BuiltinNetwork {
	out := make([]BuiltinNetwork, 0, len(builtinOrder))
	for _, t := range builtinOrder {
		out = append(out, builtinNetworks[t])
	}
	return out
}

// LookupBuiltin returns the table entry for a built-in network type.
func LookupBuiltin(t EndpointType) (BuiltinNetwork, bool) {
	n, ok := builtinNetworks[t]
	return n, ok
}

// RPCPrefs carries display preferences for a custom RPC endpoint.
// The controller stores them verbatim; nothing here affects routing.
type RPCPrefs struct {
	BlockExplorerURL string
}

// ProviderConfig is an immutable snapshot of the endpoint selection.
// It is replaced wholesale on every switch, never mutated in place, so
// configs can be compared and restored by value.
type ProviderConfig struct {
	// Type discriminates between the built-in networks and TypeRPC
	Type EndpointType

	// RPCURL is the endpoint URL. Required for TypeRPC; for built-in
	// networks it is an optional display override and is not used for
	// routing.
	RPCURL string

	// ChainID is the 0x-prefixed hex chain identifier. For built-in
	// networks it comes from the static table; for TypeRPC it is the
	// caller-supplied, validated value.
	ChainID string

	// Ticker, Nickname and RPCPrefs are display metadata with no
	// invariants.
	Ticker   string
	Nickname string
	RPCPrefs RPCPrefs
}

// Status is the coarse liveness state of the active network.
type Status string

const (
	// StatusLoading means the endpoint has not confirmed liveness yet.
	// Probe failures collapse into this state rather than a distinct
	// error: "still trying" and "transient failure" are indistinguishable
	// to consumers, which observe status instead of catching errors.
	StatusLoading Status = "loading"
	// StatusAvailable means the endpoint answered the liveness probe
	StatusAvailable Status = "available"
	// StatusUnavailable is reserved for consumers that mark a network
	// unreachable on their own; the controller itself never sets it
	StatusUnavailable Status = "unavailable"
)

// NetworkStatus pairs the liveness state with the network version the
// endpoint reported. Comparable by value; the stale-probe guard in the
// controller relies on that.
type NetworkStatus struct {
	Status         Status
	NetworkVersion string
}

// NetworkDetails records capabilities detected on the active chain.
// Reset on every switch and filled in by the liveness probe.
type NetworkDetails struct {
	// EIP1559Support is nil until the probe has seen a latest block;
	// then true iff the block carried a base fee.
	EIP1559Support *bool
}

// ProviderOption sets optional display metadata on a provider config.
type ProviderOption func(*ProviderConfig)

// WithTicker sets the currency ticker shown for the network
func WithTicker(ticker string) ProviderOption {
	return func(c *ProviderConfig) {
		c.Ticker = ticker
	}
}

// WithNickname sets a user-facing nickname for the network
func WithNickname(nickname string) ProviderOption {
	return func(c *ProviderConfig) {
		c.Nickname = nickname
	}
}

// WithBlockExplorer sets the block explorer URL preference
func WithBlockExplorer(url string) ProviderOption {
	return func(c *ProviderConfig) {
		c.RPCPrefs.BlockExplorerURL = url
	}
}

// WithRPCURL records a display RPC URL on a built-in network config.
// It does not affect routing; Infura routing is derived from the type.
func WithRPCURL(url string) ProviderOption {
	return func(c *ProviderConfig) {
		c.RPCURL = url
	}
}
