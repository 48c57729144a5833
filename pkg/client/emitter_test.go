package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/m-lab/ndt7-client-go/pkg/ndt7/model"
	"github.com/m-lab/ndt7-client-go/pkg/ndt7/spec"
)

func TestHumanReadable(t *testing.T) {
	buf := &bytes.Buffer{}
	e := HumanReadable{Out: buf}

	e.OnMeasurement(spec.SubtestDownload, model.Measurement{
		Origin:  model.OriginClient,
		AppInfo: &model.AppInfo{NumBytes: 1_000_000, ElapsedTime: 1_000_000},
	})
	if !strings.Contains(buf.String(), "8.0 Mbit/s") {
		t.Errorf("expected speed line, got %q", buf.String())
	}

	// Server-origin samples are not printed individually.
	buf.Reset()
	e.OnMeasurement(spec.SubtestDownload, model.Measurement{Origin: model.OriginServer})
	if buf.Len() != 0 {
		t.Errorf("unexpected output for server sample: %q", buf.String())
	}

	buf.Reset()
	s := NewSummary("mlab1-lga06.measurement-lab.org")
	s.Record(model.Measurement{
		Origin:  model.OriginClient,
		Test:    spec.SubtestDownload,
		AppInfo: &model.AppInfo{NumBytes: 125_000_000, ElapsedTime: 10_000_000},
	})
	e.OnSummary(s.Results())
	out := buf.String()
	if !strings.Contains(out, "mlab1-lga06.measurement-lab.org") {
		t.Errorf("summary output misses the server: %q", out)
	}
	if !strings.Contains(out, "Download") || !strings.Contains(out, "100.0 Mbit/s") {
		t.Errorf("summary output misses the download results: %q", out)
	}
}

func TestJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	e := JSON{Out: buf}

	e.OnStarting(spec.SubtestUpload)
	e.OnConnected(spec.SubtestUpload, "mlab1-lga06")
	e.OnMeasurement(spec.SubtestUpload, model.Measurement{
		Origin:  model.OriginClient,
		Test:    spec.SubtestUpload,
		AppInfo: &model.AppInfo{NumBytes: 42, ElapsedTime: 1000},
	})
	e.OnComplete(spec.SubtestUpload)
	e.OnSummary(NewSummary("mlab1-lga06").Results())

	types := []string{"starting", "connected", "measurement", "complete", "summary"}
	scanner := bufio.NewScanner(buf)
	i := 0
	for scanner.Scan() {
		var ev map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if i >= len(types) || ev["type"] != types[i] {
			t.Errorf("line %d has type %v, want %s", i, ev["type"], types[i])
		}
		i++
	}
	if i != len(types) {
		t.Errorf("expected %d events, got %d", len(types), i)
	}
}
