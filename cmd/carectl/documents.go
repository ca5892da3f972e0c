// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

type documentFlags struct {
	docType string
	topic   string
	batch   int
}

// loadDocuments reads every path into knowledge documents, in order.
func loadDocuments(paths []string, flags documentFlags) ([]datatypes.KnowledgeDocument, error) {
	var docs []datatypes.KnowledgeDocument
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		if strings.EqualFold(filepath.Ext(path), ".json") {
			fileDocs, err := decodeDocuments(data)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			docs = append(docs, fileDocs...)
			continue
		}

		if flags.docType == "" || flags.topic == "" {
			return nil, fmt.Errorf("%s is not JSON: --type and --topic are required", path)
		}
		docs = append(docs, datatypes.KnowledgeDocument{
			Content: string(data),
			Type:    flags.docType,
			Topic:   flags.topic,
			Source:  filepath.ToSlash(path),
		})
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents found")
	}
	return docs, nil
}

// decodeDocuments accepts an ingest request object or a bare document list.
func decodeDocuments(data []byte) ([]datatypes.KnowledgeDocument, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var docs []datatypes.KnowledgeDocument
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	}

	var req datatypes.IngestRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, err
	}
	return req.Documents, nil
}
