package client

import (
	"github.com/m-lab/ndt7-client-go/pkg/ndt7/model"
	"github.com/m-lab/ndt7-client-go/pkg/ndt7/spec"
)

// SubtestSummary contains the final metrics of one subtest.
type SubtestSummary struct {
	// ThroughputMbps is the average application-level throughput, computed
	// as 8 x bytes / elapsed microseconds.
	ThroughputMbps float64

	// LatencyMs is the minimum round-trip time observed by the server, in
	// milliseconds. Zero when the server did not report TCPInfo.
	LatencyMs float64

	// RetransmissionPct is the fraction of bytes retransmitted by the
	// server, as a percentage. Zero when not reported.
	RetransmissionPct float64
}

// Summary aggregates the measurements of a test run into final results.
// Feed it every sample via Record, then call Results.
type Summary struct {
	// ServerFQDN is the hostname of the server the tests ran against.
	ServerFQDN string

	// ClientIP is the client endpoint as seen by the server (ip:port).
	ClientIP string

	// ServerIP is the server endpoint (ip:port).
	ServerIP string

	// Download and Upload are filled by Results from the recorded
	// measurements. Nil when the corresponding subtest did not run.
	Download *SubtestSummary `json:",omitempty"`
	Upload   *SubtestSummary `json:",omitempty"`

	lastClient map[spec.SubtestKind]model.Measurement
	lastServer map[spec.SubtestKind]model.Measurement
}

// NewSummary returns an empty Summary for the given server.
func NewSummary(serverFQDN string) *Summary {
	return &Summary{
		ServerFQDN: serverFQDN,
		lastClient: map[spec.SubtestKind]model.Measurement{},
		lastServer: map[spec.SubtestKind]model.Measurement{},
	}
}

// Record accounts for one measurement. Only the most recent measurement of
// each (subtest, origin) pair contributes to the results, since ndt7
// counters are cumulative.
func (s *Summary) Record(m model.Measurement) {
	if m.ConnectionInfo != nil {
		s.ClientIP = m.ConnectionInfo.Client
		s.ServerIP = m.ConnectionInfo.Server
	}
	switch m.Origin {
	case model.OriginClient:
		s.lastClient[m.Test] = m
	case model.OriginServer:
		s.lastServer[m.Test] = m
	}
}

// Results computes the per-subtest summaries from the recorded
// measurements and returns the receiver for convenience.
func (s *Summary) Results() *Summary {
	if sub := s.summarize(spec.SubtestDownload); sub != nil {
		s.Download = sub
	}
	if sub := s.summarize(spec.SubtestUpload); sub != nil {
		s.Upload = sub
	}
	return s
}

func (s *Summary) summarize(kind spec.SubtestKind) *SubtestSummary {
	cl, haveClient := s.lastClient[kind]
	srv, haveServer := s.lastServer[kind]
	if !haveClient && !haveServer {
		return nil
	}
	sub := &SubtestSummary{}

	// Throughput. For the download the client-side receive counter is
	// authoritative; for the upload the server's receive counter is, with
	// the client-side send counter as fallback.
	if kind == spec.SubtestUpload && haveServer && srv.TCPInfo != nil &&
		srv.TCPInfo.BytesReceived != nil && srv.TCPInfo.ElapsedTime != nil &&
		*srv.TCPInfo.ElapsedTime > 0 {
		sub.ThroughputMbps = 8 * float64(*srv.TCPInfo.BytesReceived) /
			float64(*srv.TCPInfo.ElapsedTime)
	} else if haveClient && cl.AppInfo != nil && cl.AppInfo.ElapsedTime > 0 {
		sub.ThroughputMbps = 8 * float64(cl.AppInfo.NumBytes) /
			float64(cl.AppInfo.ElapsedTime)
	}

	if haveServer && srv.TCPInfo != nil {
		if srv.TCPInfo.MinRTT != nil {
			sub.LatencyMs = float64(*srv.TCPInfo.MinRTT) / 1000
		}
		if srv.TCPInfo.BytesRetrans != nil && srv.TCPInfo.BytesSent != nil &&
			*srv.TCPInfo.BytesSent > 0 {
			sub.RetransmissionPct = 100 * float64(*srv.TCPInfo.BytesRetrans) /
				float64(*srv.TCPInfo.BytesSent)
		}
	}
	return sub
}
