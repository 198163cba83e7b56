package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// parseICEServersFromValues builds the client-facing ICE server list.
// AERO_ICE_SERVERS_JSON wins over the convenience STUN/TURN env vars.
//
// When TURN REST is enabled, TURN entries may omit static credentials —
// /webrtc/ice injects ephemeral ones per request.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, turnRESTEnabled bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := parseICEServersJSON(raw, turnRESTEnabled)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer

	if urls := splitCSV(stunURLs); len(urls) > 0 {
		for _, u := range urls {
			if !hasICEScheme(u, "stun:", "stuns:") {
				return nil, fmt.Errorf("%s: %q is not a stun:/stuns: URL", envStunURLs, u)
			}
		}
		servers = append(servers, webrtc.ICEServer{URLs: urls})
	}

	if urls := splitCSV(turnURLs); len(urls) > 0 {
		for _, u := range urls {
			if !hasICEScheme(u, "turn:", "turns:") {
				return nil, fmt.Errorf("%s: %q is not a turn:/turns: URL", envTurnURLs, u)
			}
		}
		if !turnRESTEnabled && (strings.TrimSpace(turnUsername) == "" || strings.TrimSpace(turnCredential) == "") {
			return nil, fmt.Errorf("%s is set but %s/%s are missing and TURN REST is not configured",
				envTurnURLs, envTurnUsername, envTurnCredential)
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       urls,
			Username:   strings.TrimSpace(turnUsername),
			Credential: strings.TrimSpace(turnCredential),
		})
	}

	return servers, nil
}

func parseICEServersJSON(raw string, turnRESTEnabled bool) ([]webrtc.ICEServer, error) {
	var entries []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("empty ICE server list")
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, entry := range entries {
		if len(entry.URLs) == 0 {
			return nil, fmt.Errorf("entry %d: missing urls", i)
		}
		hasTURN := false
		for _, u := range entry.URLs {
			switch {
			case hasICEScheme(u, "stun:", "stuns:"):
			case hasICEScheme(u, "turn:", "turns:"):
				hasTURN = true
			default:
				return nil, fmt.Errorf("entry %d: unsupported ICE URL %q", i, u)
			}
		}
		if hasTURN && !turnRESTEnabled && (entry.Username == "" || entry.Credential == "") {
			return nil, fmt.Errorf("entry %d: TURN URLs require username/credential (or TURN REST)", i)
		}
		server := webrtc.ICEServer{URLs: entry.URLs, Username: entry.Username}
		if entry.Credential != "" {
			server.Credential = entry.Credential
		}
		out = append(out, server)
	}
	return out, nil
}

func hasICEScheme(rawURL string, schemes ...string) bool {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	for _, scheme := range schemes {
		if strings.HasPrefix(u, scheme) && len(u) > len(scheme) {
			return true
		}
	}
	return false
}
