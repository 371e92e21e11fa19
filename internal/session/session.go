// Package session implements the FrameProducer capability described in
// the DHAV client's design notes: a single Session owns the control
// and stream sockets for one camera connection, drives the login
// handshake, and hands demultiplexed frames to its caller one at a
// time, cooperatively, with no inversion of control.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/dahuastream/dahuastream/internal/control"
	"github.com/dahuastream/dahuastream/internal/dhav"
	"github.com/dahuastream/dahuastream/internal/media"
	"github.com/dahuastream/dahuastream/internal/metrics"
	"github.com/dahuastream/dahuastream/internal/pts"
	"github.com/dahuastream/dahuastream/internal/wire"
)

// Config is the immutable configuration surface captured by New
// (§6.1); only LatencyMS may be updated live, via SetLatency.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	Channel    int
	Subchannel int
	TimeoutS   int
	LatencyMS  int
}

func (c Config) timeout() time.Duration {
	if c.TimeoutS <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutS) * time.Second
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Dialer opens a TCP connection; production code uses net.Dialer,
// tests substitute an in-memory pipe factory.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// Session is the live connection to one camera channel/subchannel. Not
// safe for concurrent use except for SetLatency/Latency, which may be
// called from any goroutine (§5 "Shared resources").
type Session struct {
	cfg     Config
	dialer  Dialer
	log     *slog.Logger
	metrics *metrics.Metrics

	ctrlConn   net.Conn
	streamConn net.Conn

	sessionID    uint32
	connectionID string

	demux         *dhav.Demuxer
	lastKeepAlive time.Time

	latencyMS atomic.Int64

	pending []dhav.Event
}

// New creates a Session. If dialer is nil, a net.Dialer is used. If log
// is nil, slog.Default() is used. If m is nil, a private Metrics is
// created so Session is always safe to update counters on.
func New(cfg Config, dialer Dialer, log *slog.Logger, m *metrics.Metrics) *Session {
	if dialer == nil {
		var d net.Dialer
		dialer = d.DialContext
	}
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Session{
		cfg:     cfg,
		dialer:  dialer,
		log:     log.With("component", "session", "host", cfg.Host, "channel", cfg.Channel, "subchannel", cfg.Subchannel),
		metrics: m,
	}
	s.latencyMS.Store(int64(cfg.LatencyMS))
	return s
}

// Latency returns the currently configured element latency.
func (s *Session) Latency() time.Duration {
	return time.Duration(s.latencyMS.Load()) * time.Millisecond
}

// SetLatency updates the reported element latency; it takes effect
// before the next emitted frame (§5).
func (s *Session) SetLatency(ms int) {
	s.latencyMS.Store(int64(ms))
}

// Start dials both sockets, runs the login handshake, and binds the
// stream channel, leaving the session in the STREAM_STARTED state
// (§4.3's state machine).
func (s *Session) Start(ctx context.Context) error {
	addr := s.cfg.addr()
	timeout := s.cfg.timeout()

	s.log.Info("connecting control socket", "addr", addr)
	ctrlConn, err := s.dialer(ctx, "tcp", addr)
	if err != nil {
		return &wire.IOError{Op: "dial control", Err: err}
	}
	s.ctrlConn = ctrlConn

	loginResult, err := control.Login(ctx, ctrlConn, timeout, s.log, s.cfg.User, s.cfg.Password)
	if err != nil {
		var authErr control.AuthFailedError
		if errors.As(err, &authErr) {
			s.metrics.AuthFailures.Inc()
		}
		_ = ctrlConn.Close()
		return err
	}
	s.sessionID = loginResult.SessionID

	s.log.Info("connecting stream socket", "addr", addr)
	streamConn, err := s.dialer(ctx, "tcp", addr)
	if err != nil {
		_ = ctrlConn.Close()
		return &wire.IOError{Op: "dial stream", Err: err}
	}
	s.streamConn = streamConn

	connID, err := control.AddObject(ctx, ctrlConn, timeout, s.log)
	if err != nil {
		s.closeSockets()
		return err
	}
	s.connectionID = connID

	if err := control.AckSubChannel(ctx, streamConn, timeout, s.log, s.sessionID, connID); err != nil {
		s.closeSockets()
		return err
	}

	if err := control.StartStream(ctx, ctrlConn, timeout, s.log, s.cfg.Channel, s.cfg.Subchannel, connID); err != nil {
		s.closeSockets()
		return err
	}

	s.demux = dhav.New(s.log, pts.New(nil))
	s.lastKeepAlive = time.Now()

	s.log.Info("session started", "session_id", s.sessionID, "connection_id", connID)
	return nil
}

// Stop releases both sockets. Safe to call after a failed Start.
func (s *Session) Stop() error {
	s.closeSockets()
	return nil
}

func (s *Session) closeSockets() {
	if s.ctrlConn != nil {
		_ = s.ctrlConn.Close()
	}
	if s.streamConn != nil {
		_ = s.streamConn.Close()
	}
}

// ErrUnknownCommand is returned when the stream socket sends an outer
// command byte the session does not expect during steady-state
// operation.
var ErrUnknownCommand = errors.New("session: unexpected outer command on stream socket")

// NextFrame blocks until a video or audio frame is available, a fatal
// error occurs, or ctx is cancelled. Caps-change and warning events
// produced along the way are logged and otherwise consumed internally;
// the collaborator pipeline only sees frames (§6.5, §9 FrameProducer).
func (s *Session) NextFrame(ctx context.Context) (*media.Frame, error) {
	for {
		for len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]

			switch {
			case ev.Frame != nil:
				return ev.Frame, nil
			case ev.VideoInfo != nil:
				s.log.Info("video caps changed", "codec", ev.VideoInfo.Codec)
			case ev.AudioInfo != nil:
				s.log.Info("audio caps changed", "codec", ev.AudioInfo.Codec, "sample_rate", ev.AudioInfo.SampleRate)
			case ev.Warning != nil:
				s.log.Warn("demux warning", "kind", ev.Warning.Kind, "error", ev.Warning.Err)
				if ev.Warning.Kind == dhav.WarningPrefixError || ev.Warning.Kind == dhav.WarningCorrupted {
					s.metrics.Resyncs.Inc()
				}
			}
		}

		if err := s.maybeKeepAlive(ctx); err != nil {
			return nil, err
		}

		prologue, body, err := wire.ReceivePacket(ctx, s.streamConn, s.cfg.timeout())
		if err != nil {
			return nil, err
		}
		s.metrics.BytesRead.Add(float64(wire.PrologueSize + len(body)))

		switch prologue[0] {
		case wire.CmdDHAV:
			s.pending = s.demux.Push(body)
		case wire.CmdKeepAlive, wire.CmdKeepAliveAck:
			// steady-state NOP traffic; nothing to do
		default:
			s.log.Warn("unexpected outer command", "cmd", fmt.Sprintf("0x%02x", prologue[0]))
		}
	}
}

// maybeKeepAlive sends a control-socket NOP once a second of wall time
// has passed since the last write, per §4.3's keep-alive note; enabled
// by default here (§9).
func (s *Session) maybeKeepAlive(ctx context.Context) error {
	if time.Since(s.lastKeepAlive) < time.Second {
		return nil
	}
	if err := control.KeepAlive(ctx, s.ctrlConn, s.cfg.timeout()); err != nil {
		return err
	}
	s.lastKeepAlive = time.Now()
	return nil
}
