package gb28181

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
)

// Message is a minimal SIP/2.0 message: request-line or status-line plus
// headers and an optional body, parsed in the same line-oriented style as
// the RTSP client (bufio.Reader + manual header split) rather than a full
// SIP stack.
type Message struct {
	Method     string // REGISTER, MESSAGE, INVITE, ACK, BYE; empty for responses
	RequestURI string
	StatusCode int
	Reason     string
	Headers    map[string]string
	Body       []byte
}

// ParseSIPMessage parses one SIP message out of buf.
func ParseSIPMessage(buf []byte) (*Message, error) {
	r := bufio.NewReader(strings.NewReader(string(buf)))

	startLine, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("gb28181: read SIP start line: %w", err)
	}
	startLine = strings.TrimRight(startLine, "\r\n")

	m := &Message{Headers: make(map[string]string)}

	if strings.HasPrefix(startLine, "SIP/2.0") {
		fields := strings.SplitN(startLine, " ", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("gb28181: malformed status line %q", startLine)
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("gb28181: malformed status code: %w", err)
		}
		m.StatusCode = code
		m.Reason = fields[2]
	} else {
		fields := strings.SplitN(startLine, " ", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("gb28181: malformed request line %q", startLine)
		}
		m.Method = fields[0]
		m.RequestURI = fields[1]
	}

	contentLength := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		m.Headers[strings.ToLower(key)] = val
		if strings.ToLower(key) == "content-length" {
			contentLength, _ = strconv.Atoi(val)
		}
	}

	if contentLength > 0 {
		body := make([]byte, contentLength)
		n, _ := r.Read(body)
		m.Body = body[:n]
	}

	return m, nil
}

// BuildResponse renders a SIP response with the given status and headers
// copied/echoed from the request (Via, From, To, Call-ID, CSeq) per
// RFC 3261's minimal echo requirements.
func BuildResponse(req *Message, status int, reason string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "SIP/2.0 %d %s\r\n", status, reason)
	for _, h := range []string{"via", "from", "to", "call-id", "cseq"} {
		if v, ok := req.Headers[h]; ok {
			fmt.Fprintf(&b, "%s: %s\r\n", headerName(h), v)
		}
	}
	b.WriteString("Content-Length: 0\r\n\r\n")
	return []byte(b.String())
}

func headerName(lower string) string {
	switch lower {
	case "call-id":
		return "Call-ID"
	case "cseq":
		return "CSeq"
	default:
		return strings.ToUpper(lower[:1]) + lower[1:]
	}
}

// Endpoint is a minimal SIP/2.0 endpoint over UDP: it accepts REGISTER,
// MESSAGE (XML body), INVITE/ACK/BYE, dispatching each to a registry and a
// set of callbacks. It deliberately does not implement a full dialog state
// machine — GB28181 devices interact with it as a pull target, not a peer
// negotiating arbitrary SIP features.
type Endpoint struct {
	conn     *net.UDPConn
	logger   *slog.Logger
	registry *Registry

	OnCatalog    func(deviceID string, items []DeviceItem)
	OnInvite     func(deviceID string, req *Message) (rtpPort int, ssrc uint32, err error)
}

// NewEndpoint binds a UDP socket for the SIP endpoint.
func NewEndpoint(listenAddr string, registry *Registry, logger *slog.Logger) (*Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("gb28181: resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("gb28181: listen UDP: %w", err)
	}
	return &Endpoint{conn: conn, logger: logger, registry: registry}, nil
}

// Close closes the underlying UDP socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// ServeOne reads and dispatches a single datagram; callers loop this in a
// goroutine honoring ctx cancellation via Close().
func (e *Endpoint) ServeOne() error {
	buf := make([]byte, 65535)
	n, peer, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		return err
	}

	msg, err := ParseSIPMessage(buf[:n])
	if err != nil {
		e.logger.Debug("discarding malformed SIP message", "error", err, "peer", peer.String())
		return nil
	}

	e.dispatch(msg, peer)
	return nil
}

func (e *Endpoint) dispatch(msg *Message, peer *net.UDPAddr) {
	switch msg.Method {
	case "REGISTER":
		e.handleRegister(msg, peer)
	case "MESSAGE":
		e.handleMessage(msg, peer)
	case "INVITE":
		e.handleInvite(msg, peer)
	case "ACK":
		// No response required.
	case "BYE":
		resp := BuildResponse(msg, 200, "OK")
		e.conn.WriteToUDP(resp, peer)
	default:
		e.logger.Debug("unhandled SIP method", "method", msg.Method)
	}
}

func (e *Endpoint) handleRegister(msg *Message, peer *net.UDPAddr) {
	deviceID := deviceIDFromURI(msg.RequestURI)
	expires := 3600
	if v, ok := msg.Headers["expires"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			expires = n
		}
	}
	e.registry.Register(deviceID, peer.IP.String(), peer.Port, expires)

	resp := BuildResponse(msg, 200, "OK")
	e.conn.WriteToUDP(resp, peer)
}

func (e *Endpoint) handleMessage(msg *Message, peer *net.UDPAddr) {
	body, err := ParseMessage(msg.Body)
	if err != nil {
		e.logger.Debug("discarding malformed MESSAGE body", "error", err)
		resp := BuildResponse(msg, 200, "OK")
		e.conn.WriteToUDP(resp, peer)
		return
	}

	switch body.CmdType {
	case "Catalog":
		if body.DeviceList != nil {
			e.registry.ApplyCatalog(body.DeviceList.Items)
			if e.OnCatalog != nil {
				e.OnCatalog(body.DeviceID, body.DeviceList.Items)
			}
		}
	case "Keepalive":
		e.registry.Keepalive(body.DeviceID)
	case "DeviceStatus", "DeviceInfo":
		// Recorded for liveness purposes only; full CRUD lives outside this core.
		e.registry.Keepalive(body.DeviceID)
	}

	resp := BuildResponse(msg, 200, "OK")
	e.conn.WriteToUDP(resp, peer)
}

func (e *Endpoint) handleInvite(msg *Message, peer *net.UDPAddr) {
	deviceID := deviceIDFromURI(msg.RequestURI)

	if e.OnInvite == nil {
		resp := BuildResponse(msg, 488, "Not Acceptable Here")
		e.conn.WriteToUDP(resp, peer)
		return
	}

	// The 200 OK below carries no SDP body: the media port and SSRC that
	// OnInvite returns are not sent to the device.
	_, _, err := e.OnInvite(deviceID, msg)
	if err != nil {
		resp := BuildResponse(msg, 500, "Server Internal Error")
		e.conn.WriteToUDP(resp, peer)
		return
	}

	resp := BuildResponse(msg, 200, "OK")
	e.conn.WriteToUDP(resp, peer)
}

func deviceIDFromURI(uri string) string {
	// sip:<deviceID>@host
	uri = strings.TrimPrefix(uri, "sip:")
	if i := strings.IndexByte(uri, '@'); i >= 0 {
		return uri[:i]
	}
	return uri
}
