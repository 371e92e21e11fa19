package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dahuastream/dahuastream/internal/media"
	"github.com/dahuastream/dahuastream/internal/metrics"
	"github.com/dahuastream/dahuastream/internal/wire"
)

// fakeDevice hands out a new net.Pipe pair per dial, alternating
// control/stream roles by call order, and returns the server ends to
// the test for scripted responses.
type fakeDevice struct {
	conns []net.Conn // server ends, in dial order
}

func (f *fakeDevice) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	f.conns = append(f.conns, server)
	return client, nil
}

func TestSession_StartHandshake(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}
	cfg := Config{Host: "camera", Port: 37777, User: "admin", Password: "secret", Channel: 0, Subchannel: 0, TimeoutS: 2}
	s := New(cfg, dev.dial, nil, nil)

	done := make(chan error, 1)
	go func() {
		done <- s.Start(context.Background())
	}()

	// Control socket appears first.
	waitForConn(t, dev, 1)
	ctrl := dev.conns[0]
	serveLogin(t, ctrl)

	// Stream socket appears second.
	waitForConn(t, dev, 2)
	stream := dev.conns[1]

	serveAddObject(t, ctrl)
	serveAckSubChannel(t, stream)
	serveStartStream(t, ctrl)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not complete")
	}

	if s.sessionID != 1 {
		t.Fatalf("session id = %d, want 1", s.sessionID)
	}
	if s.connectionID != "conn1" {
		t.Fatalf("connection id = %q, want %q", s.connectionID, "conn1")
	}
}

func TestSession_NextFrame_SkipsNonFrameEvents(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}
	cfg := Config{Host: "camera", Port: 37777, User: "admin", Password: "secret", TimeoutS: 2}
	s := New(cfg, dev.dial, nil, nil)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	waitForConn(t, dev, 1)
	ctrl := dev.conns[0]
	serveLogin(t, ctrl)
	waitForConn(t, dev, 2)
	stream := dev.conns[1]
	serveAddObject(t, ctrl)
	serveAckSubChannel(t, stream)
	serveStartStream(t, ctrl)

	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}

	go func() {
		var p [wire.PrologueSize]byte
		p[0] = wire.CmdDHAV
		body := videoDHAVPacket()
		wire.PutU32LE(p[4:8], uint32(len(body)))
		_, _ = stream.Write(p[:])
		_, _ = stream.Write(body)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := s.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if frame.Kind != media.KindVideo {
		t.Fatalf("frame kind = %v, want video", frame.Kind)
	}
}

func TestSession_Start_AuthFailedIncrementsAuthFailuresMetric(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}
	cfg := Config{Host: "camera", Port: 37777, User: "admin", Password: "wrong", TimeoutS: 2}
	m := metrics.New()
	s := New(cfg, dev.dial, nil, m)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	waitForConn(t, dev, 1)
	ctrl := dev.conns[0]

	var prologue [wire.PrologueSize]byte
	if _, err := ctrl.Read(prologue[:]); err != nil {
		t.Fatalf("read login prologue: %v", err)
	}
	size := wire.ReadU32LE(prologue[4:8])
	creds := make([]byte, size)
	if _, err := ctrl.Read(creds); err != nil {
		t.Fatalf("read credentials: %v", err)
	}
	var resp [wire.PrologueSize]byte
	resp[8] = 1 // non-zero login-result byte signals auth failure
	if _, err := ctrl.Write(resp[:]); err != nil {
		t.Fatalf("write login response: %v", err)
	}

	if err := <-done; err == nil {
		t.Fatal("Start should have failed on rejected login")
	}

	if got := testutil.ToFloat64(m.AuthFailures); got != 1 {
		t.Fatalf("AuthFailures = %v, want 1", got)
	}
}

func TestSession_NextFrame_TracksBytesReadAndResyncs(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}
	cfg := Config{Host: "camera", Port: 37777, User: "admin", Password: "secret", TimeoutS: 2}
	m := metrics.New()
	s := New(cfg, dev.dial, nil, m)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	waitForConn(t, dev, 1)
	ctrl := dev.conns[0]
	serveLogin(t, ctrl)
	waitForConn(t, dev, 2)
	stream := dev.conns[1]
	serveAddObject(t, ctrl)
	serveAckSubChannel(t, stream)
	serveStartStream(t, ctrl)

	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}

	corrupt := videoDHAVPacket()
	corrupt[len(corrupt)-1] ^= 0xFF // corrupt the epilogue's total_size field
	good := videoDHAVPacket()

	go func() {
		for _, body := range [][]byte{corrupt, good} {
			var p [wire.PrologueSize]byte
			p[0] = wire.CmdDHAV
			wire.PutU32LE(p[4:8], uint32(len(body)))
			_, _ = stream.Write(p[:])
			_, _ = stream.Write(body)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := s.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if frame.Kind != media.KindVideo {
		t.Fatalf("frame kind = %v, want video", frame.Kind)
	}

	if got := testutil.ToFloat64(m.Resyncs); got != 1 {
		t.Fatalf("Resyncs = %v, want 1", got)
	}
	wantBytes := float64(2 * (wire.PrologueSize + len(good)))
	if got := testutil.ToFloat64(m.BytesRead); got != wantBytes {
		t.Fatalf("BytesRead = %v, want %v", got, wantBytes)
	}
}

func waitForConn(t *testing.T, dev *fakeDevice, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(dev.conns) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d dial(s), got %d", n, len(dev.conns))
}

func serveLogin(t *testing.T, conn net.Conn) {
	t.Helper()
	var prologue [wire.PrologueSize]byte
	if _, err := conn.Read(prologue[:]); err != nil {
		t.Fatalf("read login prologue: %v", err)
	}
	size := wire.ReadU32LE(prologue[4:8])
	creds := make([]byte, size)
	if _, err := conn.Read(creds); err != nil {
		t.Fatalf("read credentials: %v", err)
	}

	var resp [wire.PrologueSize]byte
	wire.PutU32LE(resp[16:20], 1)
	if _, err := conn.Write(resp[:]); err != nil {
		t.Fatalf("write login response: %v", err)
	}

	var nop [wire.PrologueSize]byte
	if _, err := conn.Read(nop[:]); err != nil {
		t.Fatalf("read keep-alive nop: %v", err)
	}
	var ack [wire.PrologueSize]byte
	ack[0] = wire.CmdKeepAliveAck
	if _, err := conn.Write(ack[:]); err != nil {
		t.Fatalf("write keep-alive ack: %v", err)
	}
}

func serveCommand(t *testing.T, conn net.Conn, respBody []byte) []byte {
	t.Helper()
	var prologue [wire.PrologueSize]byte
	if _, err := conn.Read(prologue[:]); err != nil {
		t.Fatalf("read command prologue: %v", err)
	}
	size := wire.ReadU32LE(prologue[4:8])
	body := make([]byte, size)
	if _, err := conn.Read(body); err != nil {
		t.Fatalf("read command body: %v", err)
	}

	var resp [wire.PrologueSize]byte
	resp[0] = wire.CmdCommand
	wire.PutU32LE(resp[4:8], uint32(len(respBody)))
	if _, err := conn.Write(resp[:]); err != nil {
		t.Fatalf("write command response prologue: %v", err)
	}
	if _, err := conn.Write(respBody); err != nil {
		t.Fatalf("write command response body: %v", err)
	}
	return body
}

func serveAddObject(t *testing.T, conn net.Conn) {
	serveCommand(t, conn, []byte("FaultCode:OK\r\nConnectionID:conn1\r\n\r\n"))
}

func serveAckSubChannel(t *testing.T, conn net.Conn) {
	serveCommand(t, conn, []byte("FaultCode:OK\r\n\r\n"))
}

func serveStartStream(t *testing.T, conn net.Conn) {
	serveCommand(t, conn, []byte("FaultCode:OK\r\n\r\n"))
}

// videoDHAVPacket builds one minimal H.264 DHAV packet for NextFrame
// tests, mirroring internal/dhav's own test builder.
func videoDHAVPacket() []byte {
	const (
		fixedHeaderSize = 24
		epilogueSize    = 8
		headSize        = 4
	)
	payload := []byte("x")
	totalSize := uint32(fixedHeaderSize + headSize + len(payload) + epilogueSize)

	packet := make([]byte, 0, totalSize)
	fixed := make([]byte, fixedHeaderSize)
	copy(fixed[0:4], "DHAV")
	fixed[4] = 0xfc // video I frame
	wire.PutU32LE(fixed[12:16], totalSize)
	wire.PutU16LE(fixed[16:18], 1000)
	wire.PutU16LE(fixed[20:22], 0)
	fixed[22] = headSize
	packet = append(packet, fixed...)

	ext := make([]byte, headSize)
	word := uint32(0x81)<<24 | uint32(1)<<8 // tag 0x81, codec=1 (H.264)
	ext[0] = byte(word >> 24)
	ext[1] = byte(word >> 16)
	ext[2] = byte(word >> 8)
	ext[3] = byte(word)
	packet = append(packet, ext...)

	packet = append(packet, payload...)

	epilogue := make([]byte, epilogueSize)
	copy(epilogue[0:4], "dhav")
	wire.PutU32LE(epilogue[4:8], totalSize)
	packet = append(packet, epilogue...)

	return packet
}
