// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides the terminal side of the AleutianCare CLI: reading the
// orchestrator's chat stream and rendering it.
//
// Readers handle I/O and event sequencing. They use parsers to convert
// bytes to events, but do not render output.
package ux

import (
	"bufio"
	"context"
	"io"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

// maxLineSize bounds a single SSE line. Source events carry whole chunks.
const maxLineSize = 1 << 20

// StreamCallback receives each event in order. Returning an error stops
// reading.
type StreamCallback func(event datatypes.StreamEvent) error

// StreamResult aggregates a finished stream.
type StreamResult struct {
	Answer    string
	Sources   []datatypes.SourceDocument
	Topic     string
	RequestID string

	// Error and Status are set when the stream ended with an error event.
	Error  string
	Status int

	// Events holds every event received, in order, for chain verification.
	Events []datatypes.StreamEvent
}

// Failed reports whether the stream ended with an error event.
func (r *StreamResult) Failed() bool {
	return r.Error != ""
}

// StreamReader reads a chat stream and invokes callbacks.
//
// Example:
//
//	reader := NewSSEStreamReader(NewSSEParser())
//	err := reader.Read(ctx, resp.Body, func(event datatypes.StreamEvent) error {
//	    if event.Type == datatypes.EventToken {
//	        fmt.Print(event.Content)
//	    }
//	    return nil
//	})
type StreamReader interface {
	// Read processes a stream until EOF, a terminal event (done or error),
	// context cancellation, or a callback error. The caller closes r.
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error

	// ReadAll reads the entire stream and returns the aggregated result.
	// An error event is captured in StreamResult.Error, not returned.
	ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error)
}

type sseStreamReader struct {
	parser SSEParser
}

// NewSSEStreamReader creates a reader using parser for line parsing.
func NewSSEStreamReader(parser SSEParser) StreamReader {
	return &sseStreamReader{parser: parser}
}

func (r *sseStreamReader) Read(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, err := r.parser.ParseLine(scanner.Text())
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}

		if err := callback(*event); err != nil {
			return err
		}
		if isTerminal(event.Type) {
			return nil
		}
	}

	return scanner.Err()
}

func (r *sseStreamReader) ReadAll(ctx context.Context, reader io.Reader) (*StreamResult, error) {
	result := &StreamResult{}
	err := r.Read(ctx, reader, func(event datatypes.StreamEvent) error {
		result.Add(event)
		return nil
	})
	return result, err
}

// Add folds event into the result.
func (r *StreamResult) Add(event datatypes.StreamEvent) {
	r.Events = append(r.Events, event)

	switch event.Type {
	case datatypes.EventToken:
		r.Answer += event.Content
	case datatypes.EventSources:
		r.Sources = append(r.Sources, event.Sources...)
		r.Topic = event.Topic
	case datatypes.EventDone:
		r.RequestID = event.RequestId
	case datatypes.EventError:
		r.Error = event.Error
		r.Status = event.Status
	}
}

func isTerminal(eventType string) bool {
	return eventType == datatypes.EventDone || eventType == datatypes.EventError
}

var _ StreamReader = (*sseStreamReader)(nil)
