// Package client contains the ndt7 client facade: server discovery via the
// Locate API, WebSocket connection establishment, and the entry points for
// running download and upload subtests.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/m-lab/locate/api/locate"
	v2 "github.com/m-lab/locate/api/v2"

	"github.com/m-lab/ndt7-client-go/pkg/ndt7"
	"github.com/m-lab/ndt7-client-go/pkg/ndt7/spec"
	"github.com/m-lab/ndt7-client-go/pkg/version"
)

const (
	// DefaultWebSocketHandshakeTimeout is the default timeout used by the
	// client for the WebSocket handshake.
	DefaultWebSocketHandshakeTimeout = 5 * time.Second

	// DefaultScheme is the default WebSocket scheme for a new Client.
	DefaultScheme = "wss"

	libraryName = "ndt7-client-go"
)

var (
	// ErrNoTargets is returned when the Locate API has no servers to offer.
	ErrNoTargets = errors.New("no targets available")

	// ErrConfig is returned when the client configuration is inconsistent,
	// e.g. both Server and ServiceURL overrides are set.
	ErrConfig = errors.New("invalid client configuration")

	// ErrUpgrade is returned when the server did not grant the ndt7
	// WebSocket subprotocol during the upgrade handshake.
	ErrUpgrade = errors.New("server did not accept the ndt7 subprotocol")

	libraryVersion = version.Version
)

// Locator is an interface used to get a list of available servers to test
// against. It matches the m-lab/locate API client.
type Locator interface {
	Nearest(ctx context.Context, service string) ([]v2.Target, error)
}

// TestTargets is a pair of fully qualified subtest URLs (including access
// tokens) for one server, produced by Locate.
type TestTargets struct {
	// Machine is the FQDN of the selected server, when known.
	Machine string

	// DownloadURL is the WebSocket URL for the download subtest, if any.
	DownloadURL string

	// UploadURL is the WebSocket URL for the upload subtest, if any.
	UploadURL string
}

// Client is an ndt7 client.
type Client struct {
	// ClientName is the name of the client sent to the server as part of
	// the user-agent.
	ClientName string
	// ClientVersion is the version of the client sent to the server as
	// part of the user-agent.
	ClientVersion string

	config Config

	dialer  *websocket.Dialer
	locator Locator
}

// makeUserAgent creates the user agent string.
func makeUserAgent(clientName, clientVersion string) string {
	return clientName + "/" + clientVersion + " " + libraryName + "/" + libraryVersion
}

// New returns a new Client with the provided client name, version and
// config. It panics if clientName or clientVersion are empty.
func New(clientName, clientVersion string, config Config) *Client {
	if clientName == "" || clientVersion == "" {
		panic("client name and version must be non-empty")
	}
	if config.Scheme == "" {
		config.Scheme = DefaultScheme
	}
	if config.Duration <= 0 {
		config.Duration = spec.MaxRuntime
	}
	if config.MeasureInterval <= 0 {
		config.MeasureInterval = spec.AvgMeasureInterval
	}
	if config.NoVerify {
		log.Warn("TLS certificate verification disabled (INSECURE)")
	}
	return &Client{
		ClientName:    clientName,
		ClientVersion: clientVersion,

		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: DefaultWebSocketHandshakeTimeout,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: config.NoVerify,
			},
		},

		locator: locate.NewClient(makeUserAgent(clientName, clientVersion)),
	}
}

// Locate resolves the test targets for this client. When a Server or
// ServiceURL override is configured the targets are synthesized locally
// without any network activity; otherwise the Locate API is queried and the
// first candidate in server-provided order is used.
func (c *Client) Locate(ctx context.Context) (*TestTargets, error) {
	if c.config.Server != "" && c.config.ServiceURL != "" {
		return nil, fmt.Errorf("%w: Server and ServiceURL are mutually exclusive", ErrConfig)
	}

	if c.config.ServiceURL != "" {
		return c.targetsFromServiceURL()
	}

	if c.config.Server != "" {
		return &TestTargets{
			Machine:     c.config.Server,
			DownloadURL: c.config.Scheme + "://" + c.config.Server + spec.DownloadURLPath,
			UploadURL:   c.config.Scheme + "://" + c.config.Server + spec.UploadURLPath,
		}, nil
	}

	targets, err := c.locator.Nearest(ctx, spec.LocateServiceName)
	if err != nil {
		return nil, fmt.Errorf("locate: %w", err)
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	// The Locate API ranks servers by proximity and load: take the first.
	target := targets[0]
	return &TestTargets{
		Machine:     target.Machine,
		DownloadURL: target.URLs[c.config.Scheme+"://"+spec.DownloadURLPath],
		UploadURL:   target.URLs[c.config.Scheme+"://"+spec.UploadURLPath],
	}, nil
}

// targetsFromServiceURL synthesizes TestTargets from the ServiceURL
// override. The URL's path determines the subtest it selects.
func (c *Client) targetsFromServiceURL() (*TestTargets, error) {
	u, err := url.Parse(c.config.ServiceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfig, err)
	}
	t := &TestTargets{Machine: u.Host}
	switch {
	case strings.Contains(u.Path, spec.DownloadURLPath):
		t.DownloadURL = c.config.ServiceURL
	case strings.Contains(u.Path, spec.UploadURLPath):
		t.UploadURL = c.config.ServiceURL
	default:
		return nil, fmt.Errorf("%w: service URL must contain %s or %s",
			ErrConfig, spec.DownloadURLPath, spec.UploadURLPath)
	}
	return t, nil
}

// connect establishes the WebSocket connection for a subtest and verifies
// that the server granted the ndt7 subprotocol.
func (c *Client) connect(ctx context.Context, serviceURL string) (*websocket.Conn, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfig, err)
	}
	q := u.Query()
	q.Set("client_arch", runtime.GOARCH)
	q.Set("client_library_name", libraryName)
	q.Set("client_library_version", libraryVersion)
	q.Set("client_os", runtime.GOOS)
	q.Set("client_name", c.ClientName)
	q.Set("client_version", c.ClientVersion)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Add("Sec-WebSocket-Protocol", spec.SecWebSocketProtocol)
	headers.Add("User-Agent", makeUserAgent(c.ClientName, c.ClientVersion))

	conn, _, err := c.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", u.Host, err)
	}
	if conn.Subprotocol() != spec.SecWebSocketProtocol {
		conn.Close()
		return nil, ErrUpgrade
	}
	return conn, nil
}

// Test is a handle to a running subtest. Samples yields the test's output
// stream; Cancel stops the test early.
type Test struct {
	// Kind is the subtest this handle belongs to.
	Kind spec.SubtestKind

	samples <-chan ndt7.Sample
	cancel  context.CancelFunc
}

// Samples returns the test's output stream. The stream is finite, closed
// when the test ends, and must be drained by the caller.
func (t *Test) Samples() <-chan ndt7.Sample {
	return t.samples
}

// Cancel stops the test. The session observes the cancellation promptly,
// performs the graceful close sequence and then closes the sample stream.
// Cancel is idempotent.
func (t *Test) Cancel() {
	t.cancel()
}

// StartDownload connects to the given download service URL and starts a
// download subtest.
func (c *Client) StartDownload(ctx context.Context, serviceURL string) (*Test, error) {
	return c.start(ctx, spec.SubtestDownload, serviceURL)
}

// StartUpload connects to the given upload service URL and starts an
// upload subtest.
func (c *Client) StartUpload(ctx context.Context, serviceURL string) (*Test, error) {
	return c.start(ctx, spec.SubtestUpload, serviceURL)
}

func (c *Client) start(ctx context.Context, kind spec.SubtestKind, serviceURL string) (*Test, error) {
	if c.config.Server != "" && c.config.ServiceURL != "" {
		return nil, fmt.Errorf("%w: Server and ServiceURL are mutually exclusive", ErrConfig)
	}
	conn, err := c.connect(ctx, serviceURL)
	if err != nil {
		return nil, err
	}
	log.Debug("connected", "kind", kind, "server", conn.RemoteAddr())

	session := ndt7.NewSession(conn, kind)
	session.SetDuration(c.config.Duration)
	session.SetMeasureInterval(c.config.MeasureInterval)

	tctx, cancel := context.WithCancel(ctx)
	return &Test{
		Kind:    kind,
		samples: session.Start(tctx),
		cancel:  cancel,
	}, nil
}
