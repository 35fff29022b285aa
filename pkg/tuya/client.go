package tuya

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/common"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

const (
	// DefaultEndpoint is the Americas data center. Accounts in other regions
	// set their endpoint in the credentials (e.g. https://openapi.tuyaeu.com).
	DefaultEndpoint = "https://openapi.tuyaus.com"

	signMethod = "HMAC-SHA256"
	tokenPath  = "/v1.0/token?grant_type=1"

	// codeNoProjectPermission is returned for the project-scoped device list
	// when the cloud project lacks the Device Management authorization.
	codeNoProjectPermission = 1100
)

// isTokenInvalid reports whether the error code means the cached access token
// was rejected and a fresh grant should be tried.
func isTokenInvalid(code int) bool {
	return code == 1010 || code == 1011
}

// APIError surfaces Tuya error codes.
type APIError struct {
	Code int
	Msg  string
}

func (e APIError) Error() string {
	return fmt.Sprintf("tuya api error %d: %s", e.Code, e.Msg)
}

// Client talks to the Tuya OpenAPI. Every request is signed with the cloud
// project's secret; business requests additionally carry an access token that
// the client grants and refreshes on demand.
type Client struct {
	client   *http.Client
	endpoint string
	accessID string
	secret   string
	deviceID string
	userID   string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient builds a client from stored credentials.
func NewClient(creds types.TuyaCredentials) (*Client, error) {
	if creds.AccessID == "" || creds.Secret == "" {
		return nil, errors.New("tuya credentials missing access id or secret")
	}
	endpoint := strings.TrimRight(creds.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		client:   common.HTTPClient(15 * time.Second),
		endpoint: endpoint,
		accessID: creds.AccessID,
		secret:   creds.Secret,
		deviceID: creds.DeviceID,
		userID:   creds.UserID,
	}, nil
}

// PrimaryDevice returns the configured primary plug ID, if any.
func (c *Client) PrimaryDevice() string {
	return c.deviceID
}

// response is the envelope every Tuya endpoint answers with.
type response struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
	T       int64           `json:"t"`
}

// sign computes the v2 request signature: an uppercase hex HMAC-SHA256 over
// client_id [+ access_token] + t + stringToSign, where stringToSign is
// method, the body's SHA256, an empty signature-headers block, and the path
// including its query, joined by newlines.
func (c *Client) sign(token, t, method, path string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	stringToSign := method + "\n" + hex.EncodeToString(bodyHash[:]) + "\n\n" + path
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(c.accessID + token + t + stringToSign))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// do sends one signed request. A token grant passes token == "".
func (c *Client) do(ctx context.Context, method, path string, body any, token string) (*response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	t := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("client_id", c.accessID)
	req.Header.Set("t", t)
	req.Header.Set("sign_method", signMethod)
	req.Header.Set("sign", c.sign(token, t, method, path, payload))
	if token != "" {
		req.Header.Set("access_token", token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tuya http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var res response
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &res, nil
}

// ensureToken returns a valid access token, granting a new one when the
// cached token is missing or near expiry.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	res, err := c.do(ctx, http.MethodGet, tokenPath, nil, "")
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", APIError{Code: res.Code, Msg: res.Msg}
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpireTime  int64  `json:"expire_time"`
		UID         string `json:"uid"`
	}
	if err := json.Unmarshal(res.Result, &grant); err != nil {
		return "", fmt.Errorf("decode token grant: %w", err)
	}
	if grant.AccessToken == "" {
		return "", errors.New("token grant returned no access token")
	}
	c.accessToken = grant.AccessToken
	// refresh a minute before the portal would reject it
	c.tokenExpiry = time.Now().Add(time.Duration(grant.ExpireTime)*time.Second - time.Minute)
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

// request sends one business call and returns the result payload. Envelope
// failures come back as APIError. A rejected token is granted again and the
// call retried once.
func (c *Client) request(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}
	res, err := c.do(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}
	if !res.Success && isTokenInvalid(res.Code) {
		c.invalidateToken()
		if token, err = c.ensureToken(ctx); err != nil {
			return nil, err
		}
		if res, err = c.do(ctx, method, path, body, token); err != nil {
			return nil, err
		}
	}
	if !res.Success {
		return nil, APIError{Code: res.Code, Msg: res.Msg}
	}
	return res.Result, nil
}
