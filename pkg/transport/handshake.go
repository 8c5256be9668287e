package transport

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// websocketGUID is the fixed GUID from RFC 6455 section 1.3, appended to the
// challenge key before hashing.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// generateChallengeKey returns a new base64-encoded 16-byte nonce for the
// Sec-WebSocket-Key header.
func generateChallengeKey() (string, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate challenge key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(nonce[:]), nil
}

// acceptKey computes the expected Sec-WebSocket-Accept value for a key.
func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// hostPort returns the host:port for dialing, filling in the scheme default.
func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "wss" {
		return u.Hostname() + ":443"
	}
	return u.Hostname() + ":80"
}

// buildHandshakeRequest constructs the HTTP/1.1 upgrade request.
func buildHandshakeRequest(req Request, key string) (*http.Request, error) {
	u := *req.URL
	// net/http refuses ws schemes; the request is written to our own
	// connection anyway, so rewrite to the http equivalent.
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	hr, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	hr.Header.Set("Upgrade", "websocket")
	hr.Header.Set("Connection", "Upgrade")
	hr.Header.Set("Sec-WebSocket-Key", key)
	hr.Header.Set("Sec-WebSocket-Version", "13")
	if len(req.Protocols) > 0 {
		hr.Header.Set("Sec-WebSocket-Protocol", strings.Join(req.Protocols, ", "))
	}
	return hr, nil
}

// headerContainsToken reports whether a comma-separated header value
// contains the token, case-insensitively.
func headerContainsToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// verifyHandshakeResponse validates the server's answer to the upgrade
// request and extracts the negotiation result.
func verifyHandshakeResponse(resp *http.Response, key string, offered []string) (Result, error) {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return Result{}, &HandshakeError{Failure: FailureRejected, StatusCode: resp.StatusCode}
	}
	if !headerContainsToken(resp.Header.Get("Upgrade"), "websocket") {
		return Result{}, handshakeErr(FailureProtocol,
			fmt.Errorf("missing websocket upgrade header, got %q", resp.Header.Get("Upgrade")))
	}
	if !headerContainsToken(resp.Header.Get("Connection"), "upgrade") {
		return Result{}, handshakeErr(FailureProtocol,
			fmt.Errorf("missing upgrade connection header, got %q", resp.Header.Get("Connection")))
	}
	if got, want := resp.Header.Get("Sec-WebSocket-Accept"), acceptKey(key); got != want {
		return Result{}, handshakeErr(FailureProtocol,
			fmt.Errorf("accept key mismatch: got %q, want %q", got, want))
	}

	result := Result{
		Protocol:   resp.Header.Get("Sec-WebSocket-Protocol"),
		Extensions: resp.Header.Get("Sec-WebSocket-Extensions"),
	}

	// The server may only select a subprotocol we offered.
	if result.Protocol != "" {
		found := false
		for _, p := range offered {
			if p == result.Protocol {
				found = true
				break
			}
		}
		if !found {
			return Result{}, handshakeErr(FailureProtocol,
				fmt.Errorf("server selected unoffered subprotocol %q", result.Protocol))
		}
	}

	return result, nil
}
