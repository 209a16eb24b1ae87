// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"
)

const defaultRequestTimeout = 15 * time.Second

// codeCredentialExpired is the API error code that maps to
// [ErrCredentialExpired] on the client side.
const codeCredentialExpired = "CREDENTIAL_EXPIRED"

// apiError is the error envelope returned by the Keiro API.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Client talks to the Keiro API. The refresh credential travels in an
// HttpOnly cookie, so the client carries a cookie jar and never sees the
// credential itself; it implements [Rotator] so a [Coordinator] can drive
// rotation.
type Client struct {
	httpClient *http.Client
	baseURL    string

	coordinator *Coordinator
}

/*
New creates an API client for the given base URL, e.g. "https://api.keiro.app".

Parameters:
  - baseURL: Root of the API, without the /api/v1 prefix.

Returns:
  - *Client: A client ready for Login
*/
func New(baseURL string) *Client {
	jar, _ := cookiejar.New(nil)

	apiClient := &Client{
		httpClient: &http.Client{Timeout: defaultRequestTimeout, Jar: jar},
		baseURL:    baseURL,
	}
	apiClient.coordinator = NewCoordinator(apiClient)
	return apiClient
}

// loginResponse mirrors the data payload of POST /api/v1/auth/login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
}

/*
Login authenticates with email and password. The access credential is handed
to the coordinator; the refresh credential lands in the cookie jar.

Parameters:
  - ctx: Request context.
  - email: Account email.
  - password: Account password.

Returns:
  - error: Nil on success, the API error otherwise
*/
func (apiClient *Client) Login(ctx context.Context, email, password string) error {
	payload := map[string]string{"email": email, "password": password}

	var data loginResponse
	if err := apiClient.postJSON(ctx, "/api/v1/auth/login", "", payload, &data); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	apiClient.coordinator.SetAccessToken(data.AccessToken)
	return nil
}

// refreshResponse mirrors the data payload of POST /api/v1/auth/refresh.
type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

/*
Rotate exchanges the refresh cookie for a new credential pair. It is normally
invoked by the coordinator, not called directly.

Parameters:
  - ctx: Rotation context.

Returns:
  - string: The new access credential
  - error: Nil on success; on failure the refresh cookie is discarded
*/
func (apiClient *Client) Rotate(ctx context.Context) (string, error) {
	var data refreshResponse
	if err := apiClient.postJSON(ctx, "/api/v1/auth/refresh", "", nil, &data); err != nil {
		// A rejected rotation means the session is gone (rotated elsewhere,
		// revoked, or stolen). Keeping the cookie would just repeat the
		// failure on every retry.
		if jar, jarErr := cookiejar.New(nil); jarErr == nil {
			apiClient.httpClient.Jar = jar
		}
		return "", fmt.Errorf("rotate: %w", err)
	}

	return data.AccessToken, nil
}

/*
Logout terminates the current session and forgets both credentials.

Parameters:
  - ctx: Request context.

Returns:
  - error: Nil on success; logout is idempotent server-side
*/
func (apiClient *Client) Logout(ctx context.Context) error {
	accessToken := apiClient.coordinator.AccessToken()

	err := apiClient.postJSON(ctx, "/api/v1/auth/logout", accessToken, nil, nil)

	apiClient.coordinator.SetAccessToken("")
	if jar, jarErr := cookiejar.New(nil); jarErr == nil {
		apiClient.httpClient.Jar = jar
	}

	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

/*
Do runs an authenticated operation through the refresh coordinator. See
[Coordinator.Do] for the retry semantics.

Parameters:
  - ctx: Caller's context.
  - op: The operation to run.

Returns:
  - error: The operation or rotation result
*/
func (apiClient *Client) Do(ctx context.Context, op Operation) error {
	return apiClient.coordinator.Do(ctx, op)
}

/*
GetJSON issues an authenticated GET and decodes the success envelope's data
field into out. Expired credentials are refreshed transparently.
*/
func (apiClient *Client) GetJSON(ctx context.Context, path string, out any) error {
	return apiClient.Do(ctx, func(ctx context.Context, accessToken string) error {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, apiClient.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		request.Header.Set("Authorization", "Bearer "+accessToken)
		return apiClient.send(request, out)
	})
}

// postJSON issues a POST, optionally with a JSON body and bearer credential.
func (apiClient *Client) postJSON(ctx context.Context, path, accessToken string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, apiClient.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return apiClient.send(request, out)
}

// send executes the request and decodes either the success or error envelope.
func (apiClient *Client) send(request *http.Request, out any) error {
	response, err := apiClient.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if response.StatusCode >= 400 {
		var failure apiError
		if err := json.Unmarshal(raw, &failure); err == nil && failure.Code == codeCredentialExpired {
			return ErrCredentialExpired
		}
		if failure.Error != "" {
			return fmt.Errorf("api error (%d): %s", response.StatusCode, failure.Error)
		}
		return fmt.Errorf("api error (%d)", response.StatusCode)
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
