package model_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/m-lab/ndt7-client-go/pkg/ndt7/model"
	"github.com/m-lab/ndt7-client-go/pkg/ndt7/spec"
)

func int64p(v int64) *int64 {
	return &v
}

func TestDecode(t *testing.T) {
	t.Run("decode a full protocol message", func(t *testing.T) {
		data := []byte(`{
			"AppInfo": {"ElapsedTime": 1234, "NumBytes": 5678},
			"ConnectionInfo": {"Client": "1.2.3.4:5678", "Server": "[::1]:2345", "UUID": "abc-1234"},
			"Origin": "server",
			"Test": "download",
			"TCPInfo": {"RTT": 6000, "MinRTT": 5000}
		}`)
		m, err := model.Decode(data)
		if err != nil {
			t.Fatalf("Decode() error: %v", err)
		}
		if m.AppInfo == nil || m.AppInfo.ElapsedTime != 1234 || m.AppInfo.NumBytes != 5678 {
			t.Errorf("Decode() wrong AppInfo: %+v", m.AppInfo)
		}
		if m.ConnectionInfo == nil || m.ConnectionInfo.UUID != "abc-1234" {
			t.Errorf("Decode() wrong ConnectionInfo: %+v", m.ConnectionInfo)
		}
		if m.Origin != model.OriginServer || m.Test != spec.SubtestDownload {
			t.Errorf("Decode() wrong Origin/Test: %v/%v", m.Origin, m.Test)
		}
		if m.TCPInfo == nil || m.TCPInfo.RTT == nil || *m.TCPInfo.RTT != 6000 {
			t.Errorf("Decode() wrong TCPInfo: %+v", m.TCPInfo)
		}
		// Absent optional fields must stay absent, not become zero.
		if m.TCPInfo.BytesSent != nil {
			t.Errorf("Decode() invented TCPInfo.BytesSent: %v", *m.TCPInfo.BytesSent)
		}
	})

	t.Run("empty message is valid", func(t *testing.T) {
		m, err := model.Decode([]byte(`{}`))
		if err != nil {
			t.Fatalf("Decode() error: %v", err)
		}
		if m.AppInfo != nil || m.TCPInfo != nil || m.ConnectionInfo != nil {
			t.Errorf("Decode() of empty message has non-nil fields: %+v", m)
		}
	})

	t.Run("unknown fields are ignored", func(t *testing.T) {
		m, err := model.Decode([]byte(`{"AppInfo": {"NumBytes": 1}, "FutureField": {"a": 1}}`))
		if err != nil {
			t.Fatalf("Decode() error: %v", err)
		}
		if m.AppInfo == nil || m.AppInfo.NumBytes != 1 {
			t.Errorf("Decode() wrong AppInfo: %+v", m.AppInfo)
		}
	})

	t.Run("malformed payloads", func(t *testing.T) {
		for _, data := range []string{
			`{`,
			`not json at all`,
			`{"AppInfo": {"NumBytes": "a string"}}`,
			`{"TCPInfo": {"MinRTT": true}}`,
		} {
			_, err := model.Decode([]byte(data))
			if !errors.Is(err, model.ErrMalformed) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformed", data, err)
			}
		}
	})
}

func TestRoundTrip(t *testing.T) {
	measurements := []model.Measurement{
		{},
		{
			AppInfo: &model.AppInfo{NumBytes: 1 << 20, ElapsedTime: 500000},
			Origin:  model.OriginClient,
			Test:    spec.SubtestDownload,
		},
		{
			ConnectionInfo: &model.ConnectionInfo{
				Client:    "10.0.0.1:12345",
				Server:    "10.0.0.2:443",
				UUID:      "test-uuid",
				StartTime: "2024-02-23T13:05:00.000000000Z",
			},
			Origin: model.OriginServer,
			Test:   spec.SubtestUpload,
			TCPInfo: &model.TCPInfo{
				BusyTime:      int64p(100),
				BytesAcked:    int64p(200),
				BytesReceived: int64p(300),
				BytesSent:     int64p(400),
				BytesRetrans:  int64p(0),
				ElapsedTime:   int64p(500),
				MinRTT:        int64p(8000),
				RTT:           int64p(10000),
				RTTVar:        int64p(11),
				RWndLimited:   int64p(12),
				SndBufLimited: int64p(13),
			},
		},
		{
			// Zero values that are present must survive a round trip
			// distinctly from absent fields.
			AppInfo: &model.AppInfo{NumBytes: 0, ElapsedTime: 0},
			TCPInfo: &model.TCPInfo{BytesReceived: int64p(0)},
		},
	}
	for _, m := range measurements {
		data, err := model.Encode(m)
		if err != nil {
			t.Fatalf("Encode(%+v) error: %v", m, err)
		}
		decoded, err := model.Decode(data)
		if err != nil {
			t.Fatalf("Decode(Encode(%+v)) error: %v", m, err)
		}
		if !reflect.DeepEqual(m, decoded) {
			t.Errorf("round trip mismatch: %+v != %+v", m, decoded)
		}
	}
}
