package network

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

var (
	// chainIDRegex validates the basic format of a chain ID: a "0x"
	// prefix followed by at least one hexadecimal character.
	chainIDRegex = regexp.MustCompile("^0x[0-9a-fA-F]+$")
)

// maxSafeChainID is the largest chain ID the wallet accepts, 2^53-1.
// Chain IDs flow through JSON consumers that cannot represent larger
// integers exactly.
const maxSafeChainID = uint64(1)<<53 - 1

// ValidateChainID checks that a caller-supplied chain ID is a 0x-prefixed
// hex string whose value is positive and within the safe-integer bound.
// Built-in networks never pass through here; their chain IDs come from the
// static table.
func ValidateChainID(chainID string) error {
	if !chainIDRegex.MatchString(chainID) {
		return NewNetworkError(
			ErrCodeInvalidChainID,
			fmt.Sprintf("chain ID %q is not a 0x-prefixed hex string", chainID),
			nil,
			TypeRPC,
		)
	}

	v, err := strconv.ParseUint(chainID[2:], 16, 64)
	if err != nil {
		// Hex strings longer than 16 digits overflow uint64 and are
		// far beyond the safe bound anyway.
		return NewNetworkError(
			ErrCodeInvalidChainID,
			fmt.Sprintf("chain ID %q is outside the accepted range", chainID),
			err,
			TypeRPC,
		)
	}

	if v == 0 || v > maxSafeChainID {
		return NewNetworkError(
			ErrCodeInvalidChainID,
			fmt.Sprintf("chain ID %q is outside the accepted range", chainID),
			nil,
			TypeRPC,
		)
	}

	return nil
}

// ValidateRPCURL checks that a custom endpoint URL parses and uses a
// supported scheme. Only http and https are accepted: websocket targets
// dial eagerly, which would break the contract that building a
// connection performs no network I/O.
func ValidateRPCURL(rpcURL string) error {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return NewNetworkError(
			ErrCodeInvalidRPCURL,
			fmt.Sprintf("RPC URL %q is not a valid URL", rpcURL),
			err,
			TypeRPC,
		)
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return NewNetworkError(
			ErrCodeInvalidRPCURL,
			fmt.Sprintf("RPC URL %q has unsupported scheme %q", rpcURL, u.Scheme),
			nil,
			TypeRPC,
		)
	}

	if u.Host == "" {
		return NewNetworkError(
			ErrCodeInvalidRPCURL,
			fmt.Sprintf("RPC URL %q has no host", rpcURL),
			nil,
			TypeRPC,
		)
	}

	return nil
}
