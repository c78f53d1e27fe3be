package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// AudioURL returns the audio duplex endpoint for sessionID under the backend
// base URL.
func AudioURL(base, sessionID string) (string, error) {
	u, err := wsBase(base)
	if err != nil {
		return "", err
	}
	u.Path += "/ws/audio"
	u.RawQuery = url.Values{"session_id": {sessionID}}.Encode()
	return u.String(), nil
}

// RealtimeURL returns the chat duplex endpoint under the backend base URL.
func RealtimeURL(base string) (string, error) {
	u, err := wsBase(base)
	if err != nil {
		return "", err
	}
	u.Path += "/v1/realtime"
	return u.String(), nil
}

// wsBase parses base and maps its scheme to the WebSocket equivalent.
func wsBase(base string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("transport: parse backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("transport: unsupported backend url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// endpoint joins path onto the HTTP base URL.
func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
