package protocol

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Profile selects the protocol variant a session speaks.
type Profile string

const (
	// ProfileBasic streams recognised sentences only.
	ProfileBasic Profile = "basic"

	// ProfileRoles enables speaker separation and adds the tips and
	// medical_record events.
	ProfileRoles Profile = "roles"
)

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	return p == ProfileBasic || p == ProfileRoles
}

// SepRoles returns the sep_roles URL flag for p.
func (p Profile) SepRoles() bool { return p == ProfileRoles }

// Supports reports whether the profile delivers events of type ev.
func (p Profile) Supports(ev EventType) bool {
	switch ev {
	case EventTips, EventMedicalRecord:
		return p == ProfileRoles
	default:
		return true
	}
}

// DefaultDeviceName is sent as device_name when no device label is known.
const DefaultDeviceName = "default"

// ParseEndpoint parses a recognition service endpoint. ws and wss URLs are
// accepted as is; http and https are mapped to ws and wss.
func ParseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("protocol: parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("protocol: endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("protocol: endpoint %q: missing host", endpoint)
	}
	return u, nil
}

// BuildURL appends the session query parameters to endpoint: record_id,
// device_name (deviceLabel, or "default" if empty), and sep_roles. Existing
// query parameters on endpoint are preserved.
func BuildURL(endpoint, recordID, deviceLabel string, profile Profile) (string, error) {
	u, err := ParseEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	if deviceLabel == "" {
		deviceLabel = DefaultDeviceName
	}

	q := u.Query()
	q.Set("record_id", recordID)
	q.Set("device_name", deviceLabel)
	q.Set("sep_roles", strconv.FormatBool(profile.SepRoles()))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
