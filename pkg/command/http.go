// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package command

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const httpRequestTimeout = 10 * time.Second

// HTTPSource polls the dashboard's command API.
type HTTPSource struct {
	baseURL  string
	token    string
	deviceID string
	client   *http.Client
}

// NewHTTPSource returns a Source backed by the dashboard HTTP API.
func NewHTTPSource(baseURL, token, deviceID string) *HTTPSource {
	return &HTTPSource{
		baseURL:  baseURL,
		token:    token,
		deviceID: deviceID,
		client:   &http.Client{Timeout: httpRequestTimeout},
	}
}

type commandsResponse struct {
	OK   bool `json:"ok"`
	Data struct {
		Commands []Command `json:"commands"`
	} `json:"data"`
	Error string `json:"error"`
}

// Fetch claims pending commands via GET /device-commands.
func (s *HTTPSource) Fetch(ctx context.Context) ([]Command, error) {
	ctx, cancel := context.WithTimeout(ctx, httpRequestTimeout)
	defer cancel()

	endpoint := s.baseURL + "/device-commands?" + url.Values{
		"deviceId": {s.deviceID},
		"limit":    {strconv.Itoa(pollLimit)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &overloadError{cause: "HTTP " + strconv.Itoa(resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("command API returned %s", resp.Status)
	}

	var payload commandsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("parsing command list: %w", err)
	}
	if !payload.OK {
		return nil, fmt.Errorf("command API rejected poll: %s", payload.Error)
	}
	return payload.Data.Commands, nil
}

// Report posts one result via POST /device-commands/result.
func (s *HTTPSource) Report(ctx context.Context, res Result) error {
	ctx, cancel := context.WithTimeout(ctx, httpRequestTimeout)
	defer cancel()

	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/device-commands/result", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("command result rejected with %s", resp.Status)
	}
	return nil
}
