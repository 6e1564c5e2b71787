package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/org/licenseserver/internal/sign"
)

// Client is an HTTP client for the license server API. Every request is
// signed with the operator provider's signing pair.
type Client struct {
	addr     string
	provider string
	iv, key  []byte
	http     *http.Client
}

// newClient creates a Client from the current config plus env overrides.
func newClient() (*Client, error) {
	addr := cfg.Address
	if v := os.Getenv("LS_ADDR"); v != "" {
		addr = v
	}
	providerName := cfg.Provider
	if v := os.Getenv("LS_PROVIDER"); v != "" {
		providerName = v
	}
	ivHex := cfg.SignIV
	if v := os.Getenv("LS_SIGN_IV"); v != "" {
		ivHex = v
	}
	keyHex := cfg.SignKey
	if v := os.Getenv("LS_SIGN_KEY"); v != "" {
		keyHex = v
	}

	if providerName == "" {
		return nil, fmt.Errorf("no provider configured (set provider in %s or LS_PROVIDER)", configPath())
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("decoding sign_iv: %w", err)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding sign_key: %w", err)
	}

	tlsCfg := &tls.Config{}
	caCert := cfg.TLSCACert
	if v := os.Getenv("LS_CACERT"); v != "" {
		caCert = v
	}
	if caCert != "" {
		data, err := os.ReadFile(caCert)
		if err == nil {
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(data)
			tlsCfg.RootCAs = pool
		}
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}

	return &Client{addr: addr, provider: providerName, iv: iv, key: key, http: httpClient}, nil
}

// signed attaches the provider field and the computed signature.
func (c *Client) signed(params sign.Params) (sign.Params, error) {
	out := sign.Params{"provider": c.provider}
	for k, v := range params {
		out[k] = v
	}
	sig, err := sign.Sign(out, c.iv, c.key)
	if err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}
	out[sign.SignField] = sig
	return out, nil
}

func (c *Client) postJSON(path string, params sign.Params) (map[string]any, error) {
	signedParams, err := c.signed(params)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(signedParams)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.addr+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	return parseJSONResponse(resp)
}

func (c *Client) deleteJSON(path string, params sign.Params) (map[string]any, error) {
	signedParams, err := c.signed(params)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(signedParams)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodDelete, c.addr+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	return parseJSONResponse(resp)
}

// getText performs a signed (or unsigned) GET and returns the plain body.
func (c *Client) getText(path string, params sign.Params, withSignature bool) (string, error) {
	var full sign.Params
	var err error
	if withSignature {
		full, err = c.signed(params)
		if err != nil {
			return "", err
		}
	} else {
		full = sign.Params{"provider": c.provider}
		for k, v := range params {
			full[k] = v
		}
	}

	q := url.Values{}
	for k, v := range full {
		q.Set(k, fmt.Sprintf("%v", v))
	}
	resp, err := c.http.Get(c.addr + path + "?" + q.Encode())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

func parseJSONResponse(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, data)
	}
	if resp.StatusCode >= 400 {
		if errObj, ok := result["error"].(map[string]any); ok {
			return nil, fmt.Errorf("%v", errObj["message"])
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return result, nil
}
