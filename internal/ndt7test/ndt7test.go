// Package ndt7test provides a local ndt7 server capable of running a
// measurement against this module's client in unit tests. It is not a
// production server: the TCPInfo values it reports are synthetic.
package ndt7test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/m-lab/ndt7-client-go/pkg/ndt7/model"
	"github.com/m-lab/ndt7-client-go/pkg/ndt7/spec"
)

// Handler handles ndt7 subtest requests.
type Handler struct{}

// NewServer returns a started httptest server speaking the ndt7 protocol
// on the standard download and upload paths. The caller must Close it.
func NewServer() *httptest.Server {
	handler := &Handler{}
	mux := http.NewServeMux()
	mux.HandleFunc(spec.DownloadURLPath, handler.Download)
	mux.HandleFunc(spec.UploadURLPath, handler.Upload)
	return httptest.NewServer(mux)
}

// Upgrade upgrades an ndt7 request to WebSocket, enforcing the ndt7
// subprotocol. The same subprotocol is echoed on the response, which is
// what makes the negotiation succeed on the client side.
func Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	if r.Header.Get("Sec-WebSocket-Protocol") != spec.SecWebSocketProtocol {
		w.WriteHeader(http.StatusBadRequest)
		return nil, errors.New("missing Sec-WebSocket-Protocol header")
	}
	h := http.Header{}
	h.Add("Sec-WebSocket-Protocol", spec.SecWebSocketProtocol)
	u := websocket.Upgrader{
		ReadBufferSize:  spec.MaxScaledMessageSize,
		WriteBufferSize: spec.MaxScaledMessageSize,
	}
	return u.Upgrade(w, r, h)
}

// Download streams binary filler interleaved with periodic measurements
// until the client closes the connection or the protocol runtime elapses.
func (*Handler) Download(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrade(w, r)
	if err != nil {
		return
	}
	defer conn.Close()

	start := time.Now()
	deadline := start.Add(spec.MaxRuntime)
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	// Consume inbound frames so the client's close handshake is observed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	// First measurement carries the connection info, like real servers do.
	first := measurement(start, 0)
	first.ConnectionInfo = &model.ConnectionInfo{
		Client:    r.RemoteAddr,
		Server:    conn.LocalAddr().String(),
		UUID:      uuid.NewString(),
		StartTime: start.Format(time.RFC3339Nano),
	}
	if err := conn.WriteJSON(first); err != nil {
		return
	}

	filler := make([]byte, 1<<13)
	var sent int64
	ticker := time.NewTicker(spec.MinMeasureInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(measurement(start, sent)); err != nil {
				return
			}
		default:
			if err := conn.WriteMessage(websocket.BinaryMessage, filler); err != nil {
				return
			}
			sent += int64(len(filler))
		}
	}
}

// Upload reads whatever the client sends, counting bytes, and sends
// counter-flow measurements until the client closes the connection.
func (*Handler) Upload(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrade(w, r)
	if err != nil {
		return
	}
	defer conn.Close()

	start := time.Now()
	deadline := start.Add(spec.MaxRuntime)
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)
	conn.SetReadLimit(spec.MaxScaledMessageSize)

	received := make(chan int64, 64)
	go func() {
		defer close(received)
		var total int64
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			total += int64(len(data))
			select {
			case received <- total:
			default:
			}
		}
	}()

	var total int64
	ticker := time.NewTicker(spec.MinMeasureInterval)
	defer ticker.Stop()
	for {
		select {
		case n, ok := <-received:
			if !ok {
				return
			}
			total = n
		case <-ticker.C:
			m := measurement(start, 0)
			m.TCPInfo.BytesReceived = int64p(total)
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
	}
}

// measurement builds a synthetic server-side measurement.
func measurement(start time.Time, bytesSent int64) model.Measurement {
	elapsed := time.Since(start).Microseconds()
	return model.Measurement{
		TCPInfo: &model.TCPInfo{
			BytesSent:   int64p(bytesSent),
			ElapsedTime: int64p(elapsed),
			MinRTT:      int64p(10_000),
			RTT:         int64p(12_000),
		},
	}
}

func int64p(v int64) *int64 {
	return &v
}
