package network

import (
	"fmt"
)

// Error codes for network controller operations
const (
	// ErrCodeInvalidChainID indicates a malformed or out-of-range chain ID
	ErrCodeInvalidChainID = "INVALID_CHAIN_ID"
	// ErrCodeInvalidRPCURL indicates an unparseable or unsupported RPC URL
	ErrCodeInvalidRPCURL = "INVALID_RPC_URL"
	// ErrCodeUnknownNetwork indicates a network name outside the built-in table
	ErrCodeUnknownNetwork = "UNKNOWN_NETWORK"
	// ErrCodeReservedNetworkType indicates TypeRPC was passed where a
	// built-in network name is required
	ErrCodeReservedNetworkType = "RESERVED_NETWORK_TYPE"
	// ErrCodeProjectIDNotSet indicates an Infura switch was attempted
	// before a project ID was configured
	ErrCodeProjectIDNotSet = "PROJECT_ID_NOT_SET"
	// ErrCodeNoPreviousNetwork indicates a rollback with an empty history slot
	ErrCodeNoPreviousNetwork = "NO_PREVIOUS_NETWORK"
	// ErrCodeConnectionFailed indicates the connection factory could not
	// produce a transport for the requested configuration
	ErrCodeConnectionFailed = "CONNECTION_FAILED"
)

// NetworkError represents a network-controller error with additional context
// about the error type, message, underlying error and network.
type NetworkError struct {
	Code    string       // Error code identifying the type of error
	Message string       // Human readable error message
	Err     error        // Underlying error if any
	Network EndpointType // Network the error relates to
}

// Error implements the error interface for NetworkError.
func (e *NetworkError) Error() string {
	if e.Network != "" {
		return fmt.Sprintf("[%s] %s on network %s: %v", e.Code, e.Message, e.Network, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new NetworkError with the given parameters.
func NewNetworkError(code string, message string, err error, network EndpointType) *NetworkError {
	return &NetworkError{
		Code:    code,
		Message: message,
		Err:     err,
		Network: network,
	}
}

// IsNetworkError checks if an error is a NetworkError and matches the given code.
func IsNetworkError(err error, code string) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*NetworkError); ok {
		return e.Code == code
	}
	return false
}
