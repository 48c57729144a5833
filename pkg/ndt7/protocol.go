// Package ndt7 implements the client side of the ndt7 protocol: the
// download and upload session state machines that run over an established
// WebSocket connection.
package ndt7

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/m-lab/go/memoryless"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/ndt7-client-go/pkg/ndt7/model"
	"github.com/m-lab/ndt7-client-go/pkg/ndt7/spec"
)

// ErrMaxDuration is returned when a session's absolute socket deadline
// fires before the session managed to drain and close. Under normal
// operation the duration expiry triggers a graceful close well before this
// backstop, so reaching it means the drain itself wedged.
var ErrMaxDuration = errors.New("session exceeded its maximum duration")

// Sample is one item of a session's output stream. Either Measurement or
// Err is meaningful, never both. A Sample with a non-nil Err is recoverable
// (a malformed frame was skipped) unless it is the last item before the
// stream closes, in which case it is the error that terminated the session.
type Sample struct {
	Measurement model.Measurement
	Err         error
}

// Session drives one direction of an ndt7 test over an established
// WebSocket connection. Create it with NewSession and run it with Start.
// A Session is not restartable.
type Session struct {
	conn            *websocket.Conn
	kind            spec.SubtestKind
	duration        time.Duration
	measureInterval time.Duration
	rnd             *rand.Rand

	// appBytes counts bytes received (download) or sent (upload) at the
	// application level. It is the only state shared between the session's
	// goroutines: written by the I/O loop, read by the sampler.
	appBytes atomic.Int64

	start     time.Time
	out       chan Sample
	drainOnce sync.Once
}

// NewSession returns a Session for the given subtest kind with the
// protocol's default duration and measurement interval.
func NewSession(conn *websocket.Conn, kind spec.SubtestKind) *Session {
	return &Session{
		conn:            conn,
		kind:            kind,
		duration:        spec.MaxRuntime,
		measureInterval: spec.AvgMeasureInterval,
		// Seed randomness source with the current time. Each Session has
		// its own instance of Rand, so simultaneous calls to Read() from
		// different sessions never happen.
		rnd: rand.New(rand.NewSource(time.Now().UnixMilli())),
		out: make(chan Sample, 16),
	}
}

// SetDuration sets the maximum running time of the subtest. The session
// initiates a graceful close once this much time has elapsed, regardless
// of peer behavior or consumer speed.
func (s *Session) SetDuration(d time.Duration) {
	if d > 0 {
		s.duration = d
	}
}

// SetMeasureInterval sets the expected interval between client-side
// measurements. Actual intervals are drawn from a memoryless distribution
// around this value.
func (s *Session) SetMeasureInterval(d time.Duration) {
	if d > 0 {
		s.measureInterval = d
	}
}

// Start runs the session and returns its output stream. The channel is
// bounded: a slow consumer applies backpressure to the session rather than
// causing samples to be dropped. Samples appear in production order. The
// channel is closed once every session goroutine has terminated; the
// caller MUST drain it. Cancelling the context stops the session promptly
// via the same graceful close used at the end of the test.
func (s *Session) Start(ctx context.Context) <-chan Sample {
	s.start = time.Now()

	// Absolute socket deadlines are a backstop in case draining wedges.
	// The running context below normally ends the session first.
	backstop := s.start.Add(s.duration + 2*spec.DrainTimeout)
	s.conn.SetReadDeadline(backstop)
	s.conn.SetWriteDeadline(backstop)
	s.conn.SetReadLimit(spec.MaxScaledMessageSize)

	running, cancel := context.WithDeadline(ctx, s.start.Add(s.duration))
	go s.run(running, cancel)
	return s.out
}

// run executes the subtest and closes the output stream when done.
func (s *Session) run(ctx context.Context, cancel context.CancelFunc) {
	defer close(s.out)
	defer cancel()

	log.Debug("session: start", "kind", s.kind, "duration", s.duration)

	// Initiate the close handshake as soon as the test duration elapses or
	// the caller cancels. This is what unblocks the reader (and a writer
	// stuck mid-frame): the drain deadline bounds any remaining I/O.
	go func() {
		<-ctx.Done()
		s.drain()
	}()

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sampler(ctx)
	}()

	var sendErr error
	if s.kind == spec.SubtestUpload {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendErr = s.sender(ctx)
		}()
	}

	recvErr := s.receiver(ctx)
	cancel()
	wg.Wait()
	s.conn.Close()

	// The final client-origin sample reflects the complete transfer. It is
	// emitted even when the test ends early, so that every session yields
	// at least one client measurement.
	s.out <- Sample{Measurement: s.clientMeasurement()}
	if err := firstError(recvErr, sendErr); err != nil {
		s.out <- Sample{Err: err}
		log.Debug("session: failed", "kind", s.kind, "err", err)
		return
	}
	log.Debug("session: complete", "kind", s.kind,
		"bytes", s.appBytes.Load(), "elapsed", time.Since(s.start))
}

// receiver reads from the connection until it fails or the peer closes.
// During a download it counts every inbound byte; during an upload it only
// consumes the counter-flow. Text frames are decoded into server-origin
// samples; a frame that fails to decode yields a single recoverable error
// Sample and the loop continues.
func (s *Session) receiver(ctx context.Context) error {
	for {
		kind, reader, err := s.conn.NextReader()
		if err != nil {
			return s.classify(ctx, err)
		}
		switch kind {
		case websocket.BinaryMessage:
			// Measurement filler: only its length matters.
			n, err := io.Copy(io.Discard, reader)
			if err != nil {
				return s.classify(ctx, err)
			}
			if s.kind == spec.SubtestDownload {
				s.appBytes.Add(n)
			}
		case websocket.TextMessage:
			data, err := io.ReadAll(reader)
			if err != nil {
				return s.classify(ctx, err)
			}
			if s.kind == spec.SubtestDownload {
				s.appBytes.Add(int64(len(data)))
			}
			m, err := model.Decode(data)
			if err != nil {
				s.emit(ctx, Sample{Err: err})
				continue
			}
			m.Origin = model.OriginServer
			m.Test = s.kind
			s.emit(ctx, Sample{Measurement: m})
		}
	}
}

// sender writes binary filler messages back-to-back until the context
// expires, doubling the message size whenever the current size is at most
// 1/ScalingFraction of the bytes sent so far, up to MaxScaledMessageSize.
func (s *Session) sender(ctx context.Context) error {
	size := spec.MinMessageSize
	message, err := s.makePreparedMessage(size)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := s.conn.WritePreparedMessage(message); err != nil {
				if ctx.Err() != nil {
					// The drain deadline broke the write: normal end.
					return nil
				}
				return err
			}
			total := s.appBytes.Add(int64(size))
			if size < spec.MaxScaledMessageSize && int64(size) <= total/spec.ScalingFraction {
				size *= 2
				message, err = s.makePreparedMessage(size)
				if err != nil {
					return err
				}
			}
		}
	}
}

// sampler periodically emits a client-origin sample computed from the
// shared byte counter.
func (s *Session) sampler(ctx context.Context) {
	t, err := memoryless.NewTicker(ctx, memoryless.Config{
		Min:      2 * s.measureInterval / 5,
		Expected: s.measureInterval,
		Max:      8 * s.measureInterval / 5,
	})
	// This can only error if the interval is non-positive, which
	// SetMeasureInterval prevents.
	rtx.PanicOnError(err, "ticker creation failed (this should never happen)")
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.emit(ctx, Sample{Measurement: s.clientMeasurement()})
		}
	}
}

// emit pushes a sample onto the output stream, blocking for backpressure.
// The context bounds the wait so that the test deadline stays authoritative
// over a stalled consumer.
func (s *Session) emit(ctx context.Context, sm Sample) {
	select {
	case s.out <- sm:
	case <-ctx.Done():
	}
}

// clientMeasurement builds a client-origin measurement from the current
// value of the byte counter.
func (s *Session) clientMeasurement() model.Measurement {
	return model.Measurement{
		AppInfo: &model.AppInfo{
			NumBytes:    s.appBytes.Load(),
			ElapsedTime: time.Since(s.start).Microseconds(),
		},
		Origin: model.OriginClient,
		Test:   s.kind,
	}
}

// drain initiates the close handshake and bounds the remaining I/O. Safe
// to call concurrently with reads and writes; WriteControl is documented
// as concurrency-safe by gorilla/websocket.
func (s *Session) drain() {
	s.drainOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Done sending")
		deadline := time.Now().Add(spec.DrainTimeout)
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			log.Debug("session: WriteControl failed", "err", err)
		}
		s.conn.SetReadDeadline(deadline)
		s.conn.SetWriteDeadline(deadline)
	})
}

// classify separates the errors that end every session (peer close, drain
// deadline) from genuine connection faults. It returns nil when the error
// is part of a normal shutdown.
func (s *Session) classify(ctx context.Context, err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	if ctx.Err() != nil {
		// The duration elapsed or the caller cancelled: the read failure
		// is a consequence of draining, not a fault.
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrMaxDuration
	}
	return err
}

// makePreparedMessage returns a websocket.PreparedMessage of the requested
// size filled with random bytes read from the session's randomness source.
func (s *Session) makePreparedMessage(size int) (*websocket.PreparedMessage, error) {
	data := make([]byte, size)
	s.rnd.Read(data)
	return websocket.NewPreparedMessage(websocket.BinaryMessage, data)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
