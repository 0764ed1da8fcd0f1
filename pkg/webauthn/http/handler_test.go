// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memorystorage "github.com/jeremyhahn/go-passkey/pkg/storage/memory"
	"github.com/jeremyhahn/go-passkey/pkg/webauthn"
)

const testOrigin = "https://example.com"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	resolver := webauthn.NewStaticAccountResolver(
		&webauthn.Account{Identity: "alice", DisplayName: "Alice Example"},
		&webauthn.Account{Identity: "bob", DisplayName: "Bob Example"},
	)
	backend := memorystorage.New()
	t.Cleanup(func() { backend.Close() })

	service, err := webauthn.NewService(&webauthn.ServiceParams{
		Config: &webauthn.Config{
			RPID:          "example.com",
			RPDisplayName: "Example",
			RPOrigins:     []string{testOrigin},
		},
		Challenges:  webauthn.NewMemoryChallengeStore(),
		Credentials: webauthn.NewRepository(backend, resolver),
		Accounts:    resolver,
	})
	require.NoError(t, err)

	router := chi.NewRouter()
	MountChi(router, NewHandler(service), nil)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, server *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// registerOverHTTP drives a full registration ceremony through the REST API.
func registerOverHTTP(t *testing.T, server *httptest.Server, auth *webauthn.MockAuthenticator, identity string) CredentialSummary {
	t.Helper()

	resp := postJSON(t, server, "/register/options", RegisterOptionsRequest{Identity: identity})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var options RegisterOptionsResponse
	decodeJSON(t, resp, &options)
	require.NotEmpty(t, options.RequestID)
	require.Equal(t, options.RequestID, resp.Header.Get(HeaderRequestID))

	credential, err := auth.CreateAttestationResponse(options.PublicKey, testOrigin)
	require.NoError(t, err)

	resp = postJSON(t, server, "/register/verify", RegisterVerifyRequest{
		RequestID:  options.RequestID,
		Identity:   identity,
		Label:      "laptop",
		Credential: credential,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var summary CredentialSummary
	decodeJSON(t, resp, &summary)
	return summary
}

func TestHandlerRegistrationAndLogin(t *testing.T) {
	server := newTestServer(t)
	auth, err := webauthn.NewMockAuthenticator()
	require.NoError(t, err)

	summary := registerOverHTTP(t, server, auth, "alice")
	assert.Equal(t, "laptop", summary.Label)
	assert.NotEmpty(t, summary.ID)
	assert.NotEmpty(t, summary.CreatedAt)

	resp := postJSON(t, server, "/login/options", LoginOptionsRequest{Identity: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var options LoginOptionsResponse
	decodeJSON(t, resp, &options)
	require.NotEmpty(t, options.RequestID)

	credential, err := auth.CreateAssertionResponse(options.PublicKey, testOrigin, nil)
	require.NoError(t, err)

	resp = postJSON(t, server, "/login/verify", LoginVerifyRequest{
		RequestID:  options.RequestID,
		Credential: credential,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login LoginVerifyResponse
	decodeJSON(t, resp, &login)
	assert.Equal(t, "alice", login.Identity)
}

func TestHandlerRegisterOptionsUnknownIdentity(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server, "/register/options", RegisterOptionsRequest{Identity: "mallory"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errResp ErrorResponse
	decodeJSON(t, resp, &errResp)
	assert.Equal(t, ErrorCodeNotFound, errResp.Error.Code)
}

func TestHandlerRegisterOptionsMissingIdentity(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server, "/register/options", RegisterOptionsRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerRegisterVerifyForgedResponse(t *testing.T) {
	server := newTestServer(t)
	auth, err := webauthn.NewMockAuthenticator()
	require.NoError(t, err)

	resp := postJSON(t, server, "/register/options", RegisterOptionsRequest{Identity: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var options RegisterOptionsResponse
	decodeJSON(t, resp, &options)

	// Attestation minted for a different origin.
	credential, err := auth.CreateAttestationResponse(options.PublicKey, "https://evil.example.org")
	require.NoError(t, err)

	resp = postJSON(t, server, "/register/verify", RegisterVerifyRequest{
		RequestID:  options.RequestID,
		Identity:   "alice",
		Credential: credential,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The body never says which check failed.
	var errResp ErrorResponse
	decodeJSON(t, resp, &errResp)
	assert.Equal(t, ErrorCodeVerificationFailed, errResp.Error.Code)
	assert.Equal(t, "verification failed", errResp.Error.Message)
}

func TestHandlerLoginOptionsDoesNotEnumerate(t *testing.T) {
	server := newTestServer(t)

	// Unknown identity and known identity without credentials must be
	// indistinguishable.
	unknown := postJSON(t, server, "/login/options", LoginOptionsRequest{Identity: "mallory"})
	empty := postJSON(t, server, "/login/options", LoginOptionsRequest{Identity: "bob"})

	assert.Equal(t, http.StatusBadRequest, unknown.StatusCode)
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)

	var unknownBody, emptyBody ErrorResponse
	decodeJSON(t, unknown, &unknownBody)
	decodeJSON(t, empty, &emptyBody)
	assert.Equal(t, unknownBody, emptyBody)
}

func TestHandlerLoginVerifyReplayRejected(t *testing.T) {
	server := newTestServer(t)
	auth, err := webauthn.NewMockAuthenticator()
	require.NoError(t, err)
	registerOverHTTP(t, server, auth, "alice")

	resp := postJSON(t, server, "/login/options", LoginOptionsRequest{Identity: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var options LoginOptionsResponse
	decodeJSON(t, resp, &options)

	credential, err := auth.CreateAssertionResponse(options.PublicKey, testOrigin, nil)
	require.NoError(t, err)

	verify := LoginVerifyRequest{RequestID: options.RequestID, Credential: credential}
	resp = postJSON(t, server, "/login/verify", verify)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Same assertion a second time: the challenge was consumed.
	resp = postJSON(t, server, "/login/verify", verify)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerListAndDeleteCredentials(t *testing.T) {
	server := newTestServer(t)
	auth, err := webauthn.NewMockAuthenticator()
	require.NoError(t, err)
	summary := registerOverHTTP(t, server, auth, "alice")

	resp, err := http.Get(server.URL + "/credentials?identity=alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list CredentialListResponse
	decodeJSON(t, resp, &list)
	require.Len(t, list.Credentials, 1)
	assert.Equal(t, summary.ID, list.Credentials[0].ID)

	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/credentials/%s?identity=alice", server.URL, summary.ID), nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(server.URL + "/credentials?identity=alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	var after CredentialListResponse
	decodeJSON(t, resp, &after)
	assert.Empty(t, after.Credentials)
}

func TestHandlerDeleteCredentialWrongOwner(t *testing.T) {
	server := newTestServer(t)
	auth, err := webauthn.NewMockAuthenticator()
	require.NoError(t, err)
	summary := registerOverHTTP(t, server, auth, "alice")

	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/credentials/%s?identity=bob", server.URL, summary.ID), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// Someone else's credential looks like it does not exist.
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerDeleteCredentialUnknownID(t *testing.T) {
	server := newTestServer(t)
	auth, err := webauthn.NewMockAuthenticator()
	require.NoError(t, err)
	registerOverHTTP(t, server, auth, "alice")

	unknown := base64.RawURLEncoding.EncodeToString([]byte("no-such-credential"))
	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/credentials/%s?identity=alice", server.URL, unknown), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body ErrorResponse
	decodeJSON(t, resp, &body)
	assert.Equal(t, ErrorCodeNotFound, body.Error.Code)
}

func TestHandlerStatus(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	decodeJSON(t, resp, &status)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "example.com", status.RPID)
}
