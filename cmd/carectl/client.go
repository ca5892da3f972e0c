// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCare/pkg/ux"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

// careClient talks to the orchestrator's HTTP API.
type careClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	reader  ux.StreamReader
}

func newCareClient(baseURL, apiKey string, timeout time.Duration) *careClient {
	return &careClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		reader:  ux.NewSSEStreamReader(ux.NewSSEParser()),
	}
}

// Ask posts req to the streaming chat endpoint. onEvent sees every event as
// it arrives; the aggregated result is returned once the stream ends.
func (c *careClient) Ask(ctx context.Context, req datatypes.ChatRequest, onEvent ux.StreamCallback) (*ux.StreamResult, error) {
	resp, err := c.post(ctx, "/v1/chat/stream", req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	result := &ux.StreamResult{}
	err = c.reader.Read(ctx, resp.Body, func(event datatypes.StreamEvent) error {
		result.Add(event)
		if onEvent != nil {
			return onEvent(event)
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("read chat stream: %w", err)
	}
	return result, nil
}

// Ingest posts documents to the knowledge endpoint.
func (c *careClient) Ingest(ctx context.Context, req datatypes.IngestRequest) (datatypes.IngestResponse, error) {
	resp, err := c.post(ctx, "/v1/documents", req, "application/json")
	if err != nil {
		return datatypes.IngestResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return datatypes.IngestResponse{}, responseError(resp)
	}

	var out datatypes.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return datatypes.IngestResponse{}, fmt.Errorf("decode ingest response: %w", err)
	}
	return out, nil
}

func (c *careClient) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator unreachable at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

// apiError is a non-success HTTP response from the orchestrator.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("orchestrator returned %d: %s", e.Status, e.Message)
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var parsed datatypes.ErrorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &apiError{Status: resp.StatusCode, Message: msg}
}
