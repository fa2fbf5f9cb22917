// Package config loads the JSON configuration shared by the deployer CLI and
// HTTP server: chain endpoints, deployment policy, API authentication, logging and metrics.
package config
