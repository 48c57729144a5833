package client

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/m-lab/ndt7-client-go/pkg/ndt7/model"
	"github.com/m-lab/ndt7-client-go/pkg/ndt7/spec"
)

// Emitter is an interface for emitting test lifecycle events.
type Emitter interface {
	// OnStarting is called when a subtest is about to begin.
	OnStarting(kind spec.SubtestKind)
	// OnConnected is called after the WebSocket connection is established.
	OnConnected(kind spec.SubtestKind, fqdn string)
	// OnMeasurement is called on every measurement in the output stream.
	OnMeasurement(kind spec.SubtestKind, m model.Measurement)
	// OnError is called on errors.
	OnError(kind spec.SubtestKind, err error)
	// OnComplete is called after a subtest completes.
	OnComplete(kind spec.SubtestKind)
	// OnSummary is called once after all subtests, with the final results.
	OnSummary(s *Summary)
}

// HumanReadable prints human-readable output. It shows a live throughput
// line while a subtest runs and a formatted summary at the end.
type HumanReadable struct {
	Out io.Writer
}

// OnStarting prints the subtest that is about to begin.
func (e HumanReadable) OnStarting(kind spec.SubtestKind) {
	fmt.Fprintf(e.Out, "\rstarting %s", kind)
}

// OnConnected prints the server the subtest is running against.
func (e HumanReadable) OnConnected(kind spec.SubtestKind, fqdn string) {
	fmt.Fprintf(e.Out, "\r%s in progress with %s\n", kind, fqdn)
}

// OnMeasurement prints a live average-speed line from client-origin
// samples. Server-origin samples are not printed individually.
func (e HumanReadable) OnMeasurement(kind spec.SubtestKind, m model.Measurement) {
	if m.Origin != model.OriginClient || m.AppInfo == nil || m.AppInfo.ElapsedTime <= 0 {
		return
	}
	speed := 8 * float64(m.AppInfo.NumBytes) / float64(m.AppInfo.ElapsedTime)
	fmt.Fprintf(e.Out, "\rAvg. speed: %7.1f Mbit/s", speed)
}

// OnError prints the error that ended a subtest.
func (e HumanReadable) OnError(kind spec.SubtestKind, err error) {
	fmt.Fprintf(e.Out, "\n%s test failed: %s\n", kind, err)
}

// OnComplete prints the completion of a subtest.
func (e HumanReadable) OnComplete(kind spec.SubtestKind) {
	fmt.Fprintf(e.Out, "\n%s: complete\n", kind)
}

// OnSummary prints the final results.
func (e HumanReadable) OnSummary(s *Summary) {
	fmt.Fprintf(e.Out, "\nTest results\n\n")
	fmt.Fprintf(e.Out, "%10s: %s\n", "Server", s.ServerFQDN)
	fmt.Fprintf(e.Out, "%10s: %s\n", "Client", s.ClientIP)
	if s.Download != nil {
		fmt.Fprintf(e.Out, "\n%22s\n", "Download")
		e.printSubtest(s.Download)
	}
	if s.Upload != nil {
		fmt.Fprintf(e.Out, "\n%20s\n", "Upload")
		e.printSubtest(s.Upload)
	}
}

func (e HumanReadable) printSubtest(sub *SubtestSummary) {
	fmt.Fprintf(e.Out, "%15s: %7.1f Mbit/s\n", "Throughput", sub.ThroughputMbps)
	fmt.Fprintf(e.Out, "%15s: %7.1f ms\n", "Latency", sub.LatencyMs)
	fmt.Fprintf(e.Out, "%15s: %7.1f %%\n", "Retransmission", sub.RetransmissionPct)
}

// Checks that HumanReadable implements Emitter.
var _ Emitter = HumanReadable{}

// jsonEvent is the shape of every line printed by JSON.
type jsonEvent struct {
	Type        string             `json:"type"`
	Test        spec.SubtestKind   `json:"test,omitempty"`
	FQDN        string             `json:"fqdn,omitempty"`
	Error       string             `json:"error,omitempty"`
	Measurement *model.Measurement `json:"measurement,omitempty"`
	Summary     *Summary           `json:"summary,omitempty"`
}

// JSON emits one JSON object per line for each event, suitable for machine
// consumption.
type JSON struct {
	Out io.Writer
}

func (e JSON) emit(ev jsonEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		// Every event is made of marshalable fields.
		return
	}
	fmt.Fprintf(e.Out, "%s\n", data)
}

// OnStarting emits a "starting" event.
func (e JSON) OnStarting(kind spec.SubtestKind) {
	e.emit(jsonEvent{Type: "starting", Test: kind})
}

// OnConnected emits a "connected" event.
func (e JSON) OnConnected(kind spec.SubtestKind, fqdn string) {
	e.emit(jsonEvent{Type: "connected", Test: kind, FQDN: fqdn})
}

// OnMeasurement emits a "measurement" event.
func (e JSON) OnMeasurement(kind spec.SubtestKind, m model.Measurement) {
	e.emit(jsonEvent{Type: "measurement", Test: kind, Measurement: &m})
}

// OnError emits an "error" event.
func (e JSON) OnError(kind spec.SubtestKind, err error) {
	e.emit(jsonEvent{Type: "error", Test: kind, Error: err.Error()})
}

// OnComplete emits a "complete" event.
func (e JSON) OnComplete(kind spec.SubtestKind) {
	e.emit(jsonEvent{Type: "complete", Test: kind})
}

// OnSummary emits a "summary" event.
func (e JSON) OnSummary(s *Summary) {
	e.emit(jsonEvent{Type: "summary", Summary: s})
}

// Checks that JSON implements Emitter.
var _ Emitter = JSON{}
