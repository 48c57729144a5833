// Command ndt7-client runs an ndt7 download and/or upload test against an
// M-Lab server and prints the results.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/ndt7-client-go/internal/persistence"
	"github.com/m-lab/ndt7-client-go/pkg/client"
	"github.com/m-lab/ndt7-client-go/pkg/ndt7/spec"
	"github.com/m-lab/ndt7-client-go/pkg/version"
)

const clientName = "ndt7-client-go-cmd"

var (
	flagServer     = flag.String("server", "", "Server address (host:port). Bypasses the Locate API.")
	flagServiceURL = flag.String("service-url", "", "Complete service URL, including access token. Bypasses the Locate API.")
	flagNoTLS      = flag.Bool("no-tls", false, "Use unencrypted WebSocket (ws://) instead of TLS (wss://)")
	flagNoVerify   = flag.Bool("no-verify", false, "Skip TLS certificate verification (INSECURE)")
	flagFormat     = flag.String("format", "human", "Output format: 'human' or 'json'")
	flagQuiet      = flag.Bool("quiet", false, "Emit summary and errors only")
	flagNoDownload = flag.Bool("no-download", false, "Skip the download subtest")
	flagNoUpload   = flag.Bool("no-upload", false, "Skip the upload subtest")
	flagDuration   = flag.Duration("duration", spec.MaxRuntime, "Maximum duration of each subtest")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagOutput     = flag.String("output", "", "Path to write raw measurement results to (gzipped JSONL)")
)

// runner ties one Client to the output sinks of this process.
type runner struct {
	client  *client.Client
	emitter client.Emitter
	summary *client.Summary
	output  *persistence.ResultFile
	quiet   bool
}

// runTest runs one subtest to completion and reports whether it failed.
func (r *runner) runTest(ctx context.Context, kind spec.SubtestKind, serviceURL, fqdn string) bool {
	start := func() (*client.Test, error) {
		if kind == spec.SubtestDownload {
			return r.client.StartDownload(ctx, serviceURL)
		}
		return r.client.StartUpload(ctx, serviceURL)
	}

	if !r.quiet {
		r.emitter.OnStarting(kind)
	}
	test, err := start()
	if err != nil {
		r.emitter.OnError(kind, err)
		return true
	}
	defer test.Cancel()
	if !r.quiet {
		r.emitter.OnConnected(kind, fqdn)
	}

	failed := false
	for sample := range test.Samples() {
		if sample.Err != nil {
			r.emitter.OnError(kind, sample.Err)
			failed = true
			continue
		}
		r.summary.Record(sample.Measurement)
		if !r.quiet {
			r.emitter.OnMeasurement(kind, sample.Measurement)
		}
		if r.output != nil {
			if err := r.output.Write(sample.Measurement); err != nil {
				log.Error("failed to write measurement", "err", err)
			}
		}
	}
	if !r.quiet {
		r.emitter.OnComplete(kind)
	}
	return failed
}

func main() {
	flag.Parse()
	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}

	var emitter client.Emitter
	switch *flagFormat {
	case "human":
		emitter = client.HumanReadable{Out: os.Stdout}
	case "json":
		emitter = client.JSON{Out: os.Stdout}
	default:
		log.Fatal("invalid output format", "format", *flagFormat)
	}

	scheme := client.DefaultScheme
	if *flagNoTLS {
		scheme = "ws"
	}

	c := client.New(clientName, version.Version, client.Config{
		Server:     *flagServer,
		ServiceURL: *flagServiceURL,
		Scheme:     scheme,
		NoVerify:   *flagNoVerify,
		Duration:   *flagDuration,
	})

	ctx := context.Background()
	targets, err := c.Locate(ctx)
	if err != nil {
		log.Fatal("failed to locate a server", "err", err)
	}

	r := &runner{
		client:  c,
		emitter: emitter,
		summary: client.NewSummary(targets.Machine),
		quiet:   *flagQuiet,
	}
	if *flagOutput != "" {
		r.output, err = persistence.New(*flagOutput)
		rtx.Must(err, "failed to create output file")
	}

	failed := false
	if !*flagNoDownload && targets.DownloadURL != "" {
		failed = r.runTest(ctx, spec.SubtestDownload, targets.DownloadURL, targets.Machine) || failed
	}
	if !*flagNoUpload && targets.UploadURL != "" {
		failed = r.runTest(ctx, spec.SubtestUpload, targets.UploadURL, targets.Machine) || failed
	}

	summary := r.summary.Results()
	emitter.OnSummary(summary)
	if r.output != nil {
		if err := r.output.Write(summary); err != nil {
			log.Error("failed to write summary", "err", err)
		}
		rtx.Must(r.output.Close(), "failed to close output file")
	}

	if failed {
		os.Exit(1)
	}
}
