package client

import (
	"time"
)

// Config is the configuration for a Client. A Config is consumed when the
// Client is created and never mutated afterwards.
type Config struct {
	// Server is a host:port to connect to directly, bypassing the Locate
	// API. If empty, the server is obtained by querying the configured
	// Locator.
	Server string

	// ServiceURL is a complete service URL (including any access token) to
	// connect to, bypassing the Locate API entirely. Its path determines
	// which subtest the URL is for. Mutually exclusive with Server.
	ServiceURL string

	// Scheme is the WebSocket scheme used to connect to the server (ws or
	// wss). Using ws means unencrypted transport.
	Scheme string

	// NoVerify disables TLS certificate verification. This is insecure and
	// only meant for testing against servers with self-signed certificates.
	NoVerify bool

	// Duration is the maximum running time of each subtest. Zero means the
	// protocol default of ten seconds.
	Duration time.Duration

	// MeasureInterval is the expected interval between client-side
	// measurement samples. Zero means the protocol default of 250ms.
	MeasureInterval time.Duration
}
