// Package spec contains constants defined in the ndt7 specification.
package spec

import "time"

const (
	// DownloadURLPath selects the download subtest.
	DownloadURLPath = "/ndt/v7/download"

	// UploadURLPath selects the upload subtest.
	UploadURLPath = "/ndt/v7/upload"

	// SecWebSocketProtocol is the WebSocket subprotocol used by ndt7.
	SecWebSocketProtocol = "net.measurementlab.ndt.v7"

	// LocateServiceName is the ndt7 service name used with the Locate API.
	LocateServiceName = "ndt/ndt7"

	// MinMessageSize is the initial size of a binary WebSocket message
	// sent during an upload subtest.
	MinMessageSize = 1 << 13

	// MaxScaledMessageSize is the maximum size a scaled binary WebSocket
	// message can reach. The 1<<20 value is a good compromise between Go
	// and JavaScript clients as seen in cloud based tests.
	MaxScaledMessageSize = 1 << 20

	// MinMaxMessageSize is the minimum value of the maximum message size
	// that an implementation MAY want to configure. Messages smaller than
	// this threshold MUST always be accepted.
	MinMaxMessageSize = 1 << 17

	// ScalingFraction sets the threshold for scaling binary messages. When
	// the current binary message size is <= than 1/ScalingFraction of the
	// amount of bytes sent so far, the message size is doubled.
	ScalingFraction = 16

	// MinMeasureInterval is the minimum interval between subsequent
	// client-side measurements.
	MinMeasureInterval = 100 * time.Millisecond

	// AvgMeasureInterval is the average interval between subsequent
	// client-side measurements.
	AvgMeasureInterval = 250 * time.Millisecond

	// MaxMeasureInterval is the maximum interval between subsequent
	// client-side measurements.
	MaxMeasureInterval = 400 * time.Millisecond

	// MaxRuntime is the default maximum runtime of a subtest.
	MaxRuntime = 10 * time.Second

	// DrainTimeout bounds how long a session waits for the peer to
	// acknowledge the close handshake before forcing the connection shut.
	DrainTimeout = time.Second
)

// SubtestKind indicates the subtest kind.
type SubtestKind string

const (
	// SubtestDownload is a download subtest.
	SubtestDownload = SubtestKind("download")

	// SubtestUpload is an upload subtest.
	SubtestUpload = SubtestKind("upload")
)
