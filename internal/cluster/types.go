package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// MessageProfileInfo is the named message carrying one encoded profile record.
const MessageProfileInfo = "profileInfo"

// HeaderFrom carries the sender's public address on named messages.
const HeaderFrom = "X-Profilesync-From"

// ErrUnknownSender is returned when a message arrives from an address this
// process does not accept messages from.
var ErrUnknownSender = errors.New("unknown sender")

// ErrUnknownRole is returned when parsing a role name fails.
var ErrUnknownRole = errors.New("unknown role")

// Identity uniquely identifies a session participant (a stable account id).
type Identity uint64

// String formats the identity as 0x-prefixed hex.
func (id Identity) String() string {
	return fmt.Sprintf("%#x", uint64(id))
}

// ParseIdentity accepts 0x-prefixed hex, 0-prefixed octal or plain decimal.
func ParseIdentity(s string) (Identity, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parse identity %q: %w", s, err)
	}
	return Identity(v), nil
}

// Role selects the asymmetric half of the replication protocol a process runs.
type Role int

const (
	RoleHost Role = iota + 1
	RolePeer
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RolePeer:
		return "peer"
	default:
		return "unknown"
	}
}

// ParseRole maps "host" and "peer" to their Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "host":
		return RoleHost, nil
	case "peer":
		return RolePeer, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

type Participant struct {
	ID   Identity `json:"id"`
	Addr string   `json:"addr"`
}

// ProfileDocument is the JSON form of a profile record on the control API.
// Payload is base64 encoded by encoding/json.
type ProfileDocument struct {
	Version int32  `json:"version"`
	Payload []byte `json:"payload"`
}

// ProfileEntry is one registry entry as served by the inspection endpoints.
type ProfileEntry struct {
	ID Identity `json:"id"`
	ProfileDocument
}

type RegisterRequest struct {
	Participant Participant      `json:"participant"`
	Profile     *ProfileDocument `json:"profile,omitempty"`
}

type RegisterResponse struct {
	SessionID string      `json:"session_id"`
	Host      Participant `json:"host"`
}

type LeaveRequest struct {
	ID Identity `json:"id"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PostBytes sends a raw octet-stream body, tagging it with the sender address.
// The response body is discarded.
func PostBytes(ctx context.Context, url, from string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if from != "" {
		req.Header.Set(HeaderFrom, from)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return nil
}
