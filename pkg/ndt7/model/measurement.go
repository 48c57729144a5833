package model

import "github.com/m-lab/ndt7-client-go/pkg/ndt7/spec"

// Origin indicates which party produced a Measurement.
type Origin string

const (
	// OriginClient marks a measurement computed by this client.
	OriginClient = Origin("client")

	// OriginServer marks a measurement reported by the server.
	OriginServer = Origin("server")
)

// The Measurement struct contains measurement results. This structure is
// serialised as JSON and sent as a textual message during an ndt7 test.
// Every field is optional: a Measurement carrying neither AppInfo nor
// TCPInfo is well formed, just empty.
type Measurement struct {
	// AppInfo contains application-level measurements.
	AppInfo *AppInfo `json:",omitempty"`

	// ConnectionInfo contains the endpoints of the connection as seen by
	// the server, along with the server-assigned UUID of this test. The
	// server only sends it once, in its first measurement.
	ConnectionInfo *ConnectionInfo `json:",omitempty"`

	// Origin indicates who produced this measurement.
	Origin Origin `json:",omitempty"`

	// Test indicates the subtest this measurement belongs to. The session
	// overwrites it with the running subtest on every received frame.
	Test spec.SubtestKind `json:",omitempty"`

	// TCPInfo contains TCP_INFO kernel metrics for this connection. Only
	// present when the party sending the Measurement has access to them.
	TCPInfo *TCPInfo `json:",omitempty"`
}

// AppInfo contains an application-level measurement. This structure is
// described in the ndt7 specification.
type AppInfo struct {
	// NumBytes is the cumulative number of bytes transferred since the
	// beginning of the subtest.
	NumBytes int64

	// ElapsedTime is the time elapsed since the beginning of the subtest,
	// in microseconds.
	ElapsedTime int64
}

// ConnectionInfo contains the server's view of the connection.
type ConnectionInfo struct {
	// Client is the client endpoint (ip:port).
	Client string

	// Server is the server endpoint (ip:port).
	Server string

	// UUID is the unique identifier of this test assigned by the server.
	UUID string `json:",omitempty"`

	// StartTime is the test start time in RFC 3339 format.
	StartTime string `json:",omitempty"`
}

// The TCPInfo struct contains a subset of the TCP_INFO kernel metrics
// reported by ndt7 servers. All fields are pointers: a nil field means the
// server (or its kernel) did not report that metric, which is not the same
// as reporting zero.
type TCPInfo struct {
	// BusyTime is the time, in microseconds, spent actively sending data.
	BusyTime *int64 `json:",omitempty"`

	// BytesAcked is the number of bytes acked by the peer.
	BytesAcked *int64 `json:",omitempty"`

	// BytesReceived is the number of bytes received from the peer.
	BytesReceived *int64 `json:",omitempty"`

	// BytesSent is the number of bytes sent to the peer.
	BytesSent *int64 `json:",omitempty"`

	// BytesRetrans is the number of bytes retransmitted.
	BytesRetrans *int64 `json:",omitempty"`

	// ElapsedTime is the time, in microseconds, since the connection was
	// accepted by the server.
	ElapsedTime *int64 `json:",omitempty"`

	// MinRTT is the minimum round-trip time observed, in microseconds.
	MinRTT *int64 `json:",omitempty"`

	// RTT is the smoothed round-trip time, in microseconds.
	RTT *int64 `json:",omitempty"`

	// RTTVar is the round-trip time variance, in microseconds.
	RTTVar *int64 `json:",omitempty"`

	// RWndLimited is the time, in microseconds, spent limited by the
	// receive window.
	RWndLimited *int64 `json:",omitempty"`

	// SndBufLimited is the time, in microseconds, spent limited by the
	// send buffer.
	SndBufLimited *int64 `json:",omitempty"`
}
