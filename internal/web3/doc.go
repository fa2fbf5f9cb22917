// Package web3 houses the chain-facing abstractions used by the deployer:
// the explicit transaction signer, the immutable deployment request, the
// Client interface a chain implementation must satisfy, and the YAML chain
// definitions that map human readable names to node endpoints.
package web3
