package cluster

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIdentityStringRoundTrip verifies identities survive String -> ParseIdentity.
func TestIdentityStringRoundTrip(t *testing.T) {
	ids := []Identity{0, 1, 0x1001, 0x0110000100000001, ^Identity(0)}
	for _, id := range ids {
		parsed, err := ParseIdentity(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Identity
		wantErr bool
	}{
		{name: "hex", in: "0x1001", want: 0x1001},
		{name: "decimal", in: "4097", want: 0x1001},
		{name: "max", in: "0xffffffffffffffff", want: ^Identity(0)},
		{name: "empty", in: "", wantErr: true},
		{name: "negative", in: "-1", wantErr: true},
		{name: "overflow", in: "0x1ffffffffffffffff", wantErr: true},
		{name: "garbage", in: "steam:123", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIdentity(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("host")
	require.NoError(t, err)
	assert.Equal(t, RoleHost, r)
	assert.Equal(t, "host", r.String())

	r, err = ParseRole("peer")
	require.NoError(t, err)
	assert.Equal(t, RolePeer, r)
	assert.Equal(t, "peer", r.String())

	_, err = ParseRole("server")
	assert.ErrorIs(t, err, ErrUnknownRole)
	assert.Equal(t, "unknown", Role(0).String())
}

// TestRegisterRequest checks the JSON field names peers and hosts agree on.
func TestRegisterRequest(t *testing.T) {
	req := RegisterRequest{
		Participant: Participant{ID: 0x1001, Addr: "http://localhost:8081"},
		Profile:     &ProfileDocument{Version: 3, Payload: []byte("ddl")},
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	participant, ok := raw["participant"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:8081", participant["addr"])
	profile, ok := raw["profile"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ZGRs", profile["payload"], "payload is base64 on the wire")

	var decoded RegisterRequest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, req.Participant, decoded.Participant)
	require.NotNil(t, decoded.Profile)
	assert.Equal(t, int32(3), decoded.Profile.Version)
	assert.Equal(t, []byte("ddl"), decoded.Profile.Payload)
}

func TestRegisterRequestWithoutProfile(t *testing.T) {
	data, err := json.Marshal(RegisterRequest{Participant: Participant{ID: 7, Addr: "http://p"}})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "profile")
}

// TestPostJSON tests the PostJSON helper against a local server.
func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		requestBody    any
		expectError    bool
		contextTimeout bool
	}{
		{
			name:           "successful post",
			serverResponse: http.StatusOK,
			serverBody:     `{"session_id":"abc"}`,
			requestBody:    LeaveRequest{ID: 1},
		},
		{
			name:           "no content",
			serverResponse: http.StatusNoContent,
			requestBody:    LeaveRequest{ID: 1},
		},
		{
			name:           "server error response",
			serverResponse: http.StatusInternalServerError,
			serverBody:     `{"error":"internal error"}`,
			requestBody:    LeaveRequest{ID: 1},
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			requestBody:    LeaveRequest{ID: 1},
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:           "unmarshalable request body",
			serverResponse: http.StatusOK,
			requestBody:    make(chan int),
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					_, _ = w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Millisecond)
				defer cancel()
			}

			var out *RegisterResponse
			if tt.serverBody != "" && !tt.expectError {
				out = &RegisterResponse{}
			}
			var err error
			if out != nil {
				err = PostJSON(ctx, server.URL, tt.requestBody, out)
			} else {
				err = PostJSON(ctx, server.URL, tt.requestBody, nil)
			}

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if out != nil {
				assert.Equal(t, "abc", out.SessionID)
			}
		})
	}
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode([]Participant{{ID: 1, Addr: "http://a"}})
	}))
	defer server.Close()

	var out []Participant
	require.NoError(t, GetJSON(context.Background(), server.URL+"/participants", &out))
	assert.Equal(t, []Participant{{ID: 1, Addr: "http://a"}}, out)

	assert.Error(t, GetJSON(context.Background(), server.URL+"/missing", &out))
	assert.Error(t, GetJSON(context.Background(), "http://[::1]:namedport", &out))
}

func TestPostBytes(t *testing.T) {
	var gotBody []byte
	var gotFrom, gotType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFrom = r.Header.Get(HeaderFrom)
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		if len(gotBody) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := PostBytes(context.Background(), server.URL, "http://host:8080", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, gotBody)
	assert.Equal(t, "http://host:8080", gotFrom)
	assert.Equal(t, "application/octet-stream", gotType)

	err = PostBytes(context.Background(), server.URL, "", nil)
	assert.Error(t, err)
	assert.Empty(t, gotFrom)
}

func TestSession(t *testing.T) {
	host := NewSession(RoleHost)
	assert.False(t, host.IsActive())
	assert.False(t, host.IsActiveHost())

	host.Activate()
	assert.True(t, host.IsActiveHost())

	host.Deactivate()
	assert.False(t, host.IsActiveHost())

	peer := NewSession(RolePeer)
	peer.Activate()
	assert.True(t, peer.IsActive())
	assert.False(t, peer.IsActiveHost())
	assert.Equal(t, RolePeer, peer.Role())
}
