// Package api implements the Yoto cloud REST boundary: token endpoint,
// device list, content library, card detail, device status and config.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/pkg/yoto"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.yotoplay.com"

// DefaultClientID is the OAuth client id the first-party apps present to the
// token endpoint.
const DefaultClientID = "4P2do5RhHDXvCDZDZ6oti27Ft2XdRrzr"

const userAgent = "yoto-esp32-controller/1.0"

// TokenSource provides the Authorization header value for authenticated
// requests. Implemented by auth.Session.
type TokenSource interface {
	AuthHeader(ctx context.Context) (string, error)
}

// Config configures the REST client.
type Config struct {
	BaseURL  string
	ClientID string
	Timeout  time.Duration
}

// Client talks to the Yoto cloud API.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
	log      *zap.Logger
	tokens   TokenSource
}

// NewClient creates a REST client. The token source is attached later via
// SetTokenSource, since the auth session itself needs this client to log in.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("client_id required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		clientID: cfg.ClientID,
		http:     &http.Client{Timeout: cfg.Timeout},
		log:      log,
	}, nil
}

// SetTokenSource attaches the source of bearer tokens for authenticated
// endpoints.
func (c *Client) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

// TokenResponse is the token endpoint reply.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// LoginPassword exchanges account credentials for a token pair.
func (c *Client) LoginPassword(ctx context.Context, username string, password string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("audience", c.baseURL)
	form.Set("client_id", c.clientID)
	form.Set("grant_type", "password")
	form.Set("username", username)
	form.Set("password", password)
	form.Set("scope", "openid email profile offline_access")
	return c.requestToken(ctx, form)
}

// RefreshToken exchanges a refresh token for a fresh token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.requestToken(ctx, form)
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return TokenResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TokenResponse{}, statusError("/auth/token", resp)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return TokenResponse{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if token.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("%w: missing access_token", ErrMalformedToken)
	}
	return token, nil
}

type devicesResponse struct {
	Devices []yoto.Device `json:"devices"`
}

// Devices returns the devices registered to the account.
func (c *Client) Devices(ctx context.Context) ([]yoto.Device, error) {
	var resp devicesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/device-v2/devices/mine", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// LibraryEntry is one card in the family library listing.
type LibraryEntry struct {
	CardID string `json:"cardId"`
	Card   struct {
		Title    string `json:"title"`
		Metadata struct {
			Cover struct {
				ImageL string `json:"imageL"`
			} `json:"cover"`
		} `json:"metadata"`
	} `json:"card"`
}

type libraryResponse struct {
	Cards []LibraryEntry `json:"cards"`
}

// Library fetches the full family library listing.
func (c *Client) Library(ctx context.Context) ([]LibraryEntry, error) {
	var resp libraryResponse
	if err := c.doJSON(ctx, http.MethodGet, "/card/family/library", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Cards, nil
}

// CardDetail is the chapter-bearing detail for one card.
type CardDetail struct {
	Card struct {
		CardID  string `json:"cardId"`
		Title   string `json:"title"`
		Content struct {
			Chapters []ChapterDetail `json:"chapters"`
		} `json:"content"`
	} `json:"card"`
}

// ChapterDetail is one chapter entry in a card detail response.
type ChapterDetail struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
	Display  struct {
		Icon16x16 string `json:"icon16x16"`
	} `json:"display"`
}

// Detail fetches the detail document for one card.
func (c *Client) Detail(ctx context.Context, cardID string) (CardDetail, error) {
	var resp CardDetail
	endpoint := "/card/" + url.PathEscape(cardID)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return CardDetail{}, err
	}
	return resp, nil
}

// DeviceStatus polls the cloud-side status document for a device. The shape
// matches the event payload delivered over the event stream.
func (c *Client) DeviceStatus(ctx context.Context, deviceID string) (yoto.EventPayload, error) {
	var resp yoto.EventPayload
	endpoint := "/device-v2/" + url.PathEscape(deviceID) + "/status"
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return yoto.EventPayload{}, err
	}
	return resp, nil
}

type deviceConfigResponse struct {
	Config map[string]any `json:"config"`
}

// DeviceConfig fetches the player configuration document.
func (c *Client) DeviceConfig(ctx context.Context, deviceID string) (map[string]any, error) {
	var resp deviceConfigResponse
	endpoint := "/device-v2/" + url.PathEscape(deviceID) + "/config"
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Config == nil {
		resp.Config = map[string]any{}
	}
	return resp.Config, nil
}

// UpdateDeviceConfig writes player configuration keys. Keys absent from the
// map are left untouched server-side.
func (c *Client) UpdateDeviceConfig(ctx context.Context, deviceID string, config map[string]any) error {
	endpoint := "/device-v2/" + url.PathEscape(deviceID) + "/config"
	body := map[string]any{"deviceId": deviceID, "config": config}
	return c.doJSON(ctx, http.MethodPut, endpoint, body, nil)
}

// FetchBinary downloads an asset (artwork) and returns the payload with its
// content type. Artwork URLs are absolute and unauthenticated.
func (c *Client) FetchBinary(ctx context.Context, assetURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", statusError(assetURL, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) doJSON(ctx context.Context, method string, endpoint string, body any, out any) error {
	if c.tokens == nil {
		return errors.New("no token source configured")
	}
	header, err := c.tokens.AuthHeader(ctx)
	if err != nil {
		return fmt.Errorf("resolve auth header: %w", err)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(endpoint, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
