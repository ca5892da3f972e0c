// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation turns a chat into the inputs of retrieval.
//
// # Description
//
// Two stages live here:
//   - QueryRewriter condenses the latest message and the chat history into one
//     standalone question, or flags the message as not being a question.
//   - IntentClassifier labels the standalone question with a Topic that
//     selects the retrieval plan for the turn.
//
// # Thread Safety
//
// All implementations are safe for concurrent use. They hold no per-turn state.
package conversation

import (
	"context"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

// QueryRewriter produces the standalone question of a turn.
//
// # Description
//
// Rewrite resolves pronouns and implied subjects of message using history,
// keeping the language of the message. A message that cannot be read as a
// question comes back as a non-question carrying the original text.
//
// # Outputs
//
//   - StandaloneQuestion: Never has empty Text.
//   - error: Non-nil when the language model call fails. The turn must abort.
//
// # Example
//
//	q, err := rewriter.Rewrite(ctx, history, "berapa harganya?")
//	if err != nil {
//	    return err // rewrite failure
//	}
//	fmt.Println(q.Text) // "Berapa harga paket Unlimited Nonstop?"
type QueryRewriter interface {
	Rewrite(ctx context.Context, history []datatypes.Message, message string) (StandaloneQuestion, error)
}

// IntentClassifier labels a standalone question with a Topic.
//
// # Description
//
// Classify never fails: a language model error or an unrecognized label
// degrades to TopicUnclassified with Fallback set. A non-question is
// classified as TopicUnclassified without calling the model.
type IntentClassifier interface {
	Classify(ctx context.Context, question StandaloneQuestion, history []datatypes.Message) Classification
}
