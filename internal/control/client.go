// Package control implements the DMSS login handshake and the
// text-over-binary command exchanges (AddObject, AckSubChannel,
// GetParameterNames/StartStream) that bind a stream socket to an
// authenticated session (§4.3).
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/dahuastream/dahuastream/internal/wire"
)

// AuthFailedError is returned when the device rejects the login
// credentials (prologue[8] != 0 on the login response).
type AuthFailedError struct{}

func (AuthFailedError) Error() string { return "control: authentication failed" }

// ProtocolError wraps an unexpected command byte, malformed text
// response, or non-OK FaultCode encountered during the handshake.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "control: protocol error: " + e.Reason }

// LoginResult carries the state the login handshake hands off to the
// rest of the session: the device-assigned session id. The connection
// id is returned separately by AddObject.
type LoginResult struct {
	SessionID uint32
}

// Login performs the 0xa0 handshake on conn: sends the fixed login
// prologue followed by "user&&password", awaits the response prologue,
// and on success drains the keep-alive NOP exchange that leaves the
// control channel idle-ready (§4.3 "Login").
func Login(ctx context.Context, conn net.Conn, timeout time.Duration, log *slog.Logger, user, password string) (LoginResult, error) {
	log = loggerOrDefault(log)

	userpass := user + "&&" + password
	prologue := buildLoginPrologue(uint32(len(userpass)))

	log.Debug("sending login", "user", user)
	if err := wire.Send(ctx, conn, timeout, prologue[:]); err != nil {
		return LoginResult{}, err
	}
	if err := wire.Send(ctx, conn, timeout, []byte(userpass)); err != nil {
		return LoginResult{}, err
	}

	resp, _, err := wire.ReceivePrologue(ctx, conn, timeout)
	if err != nil {
		return LoginResult{}, err
	}
	if resp[8] != 0 {
		log.Warn("login rejected by device")
		return LoginResult{}, AuthFailedError{}
	}
	sessionID := wire.ReadU32LE(resp[16:20])
	log.Info("login accepted", "session_id", sessionID)

	if err := drainKeepAliveAck(ctx, conn, timeout); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{SessionID: sessionID}, nil
}

// buildLoginPrologue lays out the fixed login prologue bytes (§4.3):
// "0xa0 0x00 0x00 0x60, <userpass_size:u32-LE>, zeros×16,
// 0x04 0x02 0x03 0x00 0x01 0xa1 0xaa", zero-padded to PrologueSize.
func buildLoginPrologue(userpassSize uint32) [wire.PrologueSize]byte {
	var p [wire.PrologueSize]byte
	p[0], p[1], p[2], p[3] = 0xa0, 0x00, 0x00, 0x60
	wire.PutU32LE(p[4:8], userpassSize)
	copy(p[24:31], []byte{0x04, 0x02, 0x03, 0x00, 0x01, 0xa1, 0xaa})
	return p
}

// drainKeepAliveAck sends the 0xa1 keep-alive NOP and discards packets
// until one with command 0xb1 arrives, leaving the channel idle-ready.
func drainKeepAliveAck(ctx context.Context, conn net.Conn, timeout time.Duration) error {
	var nop [wire.PrologueSize]byte
	nop[0] = wire.CmdKeepAlive
	if err := wire.Send(ctx, conn, timeout, nop[:]); err != nil {
		return err
	}

	for {
		p, _, err := wire.ReceivePacket(ctx, conn, timeout)
		if err != nil {
			return err
		}
		if p[0] == wire.CmdKeepAliveAck {
			return nil
		}
	}
}

// AddObject sends the AddObject command on conn and returns the
// connection id from the response, truncated to 15 bytes (§4.3
// "AddObject").
func AddObject(ctx context.Context, conn net.Conn, timeout time.Duration, log *slog.Logger) (string, error) {
	log = loggerOrDefault(log)

	body := buildBody([][2]string{
		{"TransactionID", "1"},
		{"Method", "AddObject"},
		{"ParameterName", "Dahua.Device.Network.ControlConnection.Passive"},
		{"ConnectProtocol", "0"},
	})
	respBody, err := exchangeCommand(ctx, conn, timeout, body)
	if err != nil {
		return "", err
	}
	if err := checkFaultCode(respBody); err != nil {
		return "", err
	}
	connID, err := requireKey(respBody, "ConnectionID")
	if err != nil {
		return "", &ProtocolError{Reason: "AddObject response missing ConnectionID"}
	}
	if len(connID) > 15 {
		connID = connID[:15]
	}
	log.Info("object added", "connection_id", connID)
	return connID, nil
}

// AckSubChannel sends the AckSubChannel command on conn (§4.3
// "AckSubChannel"). The reference does not check FaultCode on this
// reply; this client does, to harden the handshake (§9).
func AckSubChannel(ctx context.Context, conn net.Conn, timeout time.Duration, log *slog.Logger, sessionID uint32, connectionID string) error {
	log = loggerOrDefault(log)

	body := buildBody([][2]string{
		{"TransactionID", "2"},
		{"Method", "GetParameterNames"},
		{"ParameterName", "Dahua.Device.Network.ControlConnection.AckSubChannel"},
		{"SessionID", fmt.Sprintf("%d", sessionID)},
		{"ConnectionID", connectionID},
	})
	respBody, err := exchangeCommand(ctx, conn, timeout, body)
	if err != nil {
		return err
	}
	if err := checkFaultCode(respBody); err != nil {
		return err
	}
	log.Debug("sub-channel acknowledged")
	return nil
}

// StartStream sends the GetParameterNames command that binds the
// stream socket to the requested channel/subchannel (§4.3 "Start
// stream").
func StartStream(ctx context.Context, conn net.Conn, timeout time.Duration, log *slog.Logger, channel, subchannel int, connectionID string) error {
	log = loggerOrDefault(log)

	body := buildBody([][2]string{
		{"TransactionID", "100"},
		{"Method", "GetParameterNames"},
		{"ParameterName", "Dahua.Device.Network.Monitor.General"},
		{"channel", fmt.Sprintf("%d", channel)},
		{"state", "1"},
		{"ConnectionID", connectionID},
		{"stream", fmt.Sprintf("%d", subchannel)},
	})
	respBody, err := exchangeCommand(ctx, conn, timeout, body)
	if err != nil {
		return err
	}
	if err := checkFaultCode(respBody); err != nil {
		return err
	}
	log.Info("stream started", "channel", channel, "subchannel", subchannel)
	return nil
}

// KeepAlive sends a single 0xa1 NOP with no reply expected. Session
// calls it from its frame read loop once more than a second of wall
// time has passed since the previous keep-alive (§4.3 "Keep-alive",
// §9: enabled by default here, unlike the reference).
func KeepAlive(ctx context.Context, conn net.Conn, timeout time.Duration) error {
	var nop [wire.PrologueSize]byte
	nop[0] = wire.CmdKeepAlive
	return wire.Send(ctx, conn, timeout, nop[:])
}

// exchangeCommand sends a 0xf4 command envelope carrying body and
// returns the response body.
func exchangeCommand(ctx context.Context, conn net.Conn, timeout time.Duration, body []byte) ([]byte, error) {
	var p [wire.PrologueSize]byte
	p[0] = wire.CmdCommand
	wire.PutU32LE(p[4:8], uint32(len(body)))

	if err := wire.Send(ctx, conn, timeout, p[:]); err != nil {
		return nil, err
	}
	if err := wire.Send(ctx, conn, timeout, body); err != nil {
		return nil, err
	}

	respPrologue, respBody, err := wire.ReceivePacket(ctx, conn, timeout)
	if err != nil {
		return nil, err
	}
	if respPrologue[0] != wire.CmdCommand {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unexpected response command 0x%02x", respPrologue[0])}
	}
	return respBody, nil
}

func checkFaultCode(body []byte) error {
	v, err := requireKey(body, "FaultCode")
	if err != nil {
		return &ProtocolError{Reason: "response missing FaultCode"}
	}
	if v != "OK" {
		return &ProtocolError{Reason: "FaultCode:" + v}
	}
	return nil
}

func loggerOrDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return log.With("component", "control")
}
