package conversation

import (
	"strings"

	"github.com/AleutianAI/AleutianCare/pkg/envutil"
)

// StandaloneQuestion is the rewritten form of the user's latest message.
//
// # Description
//
// A StandaloneQuestion is either a genuine question or a non-question. The
// language model signals a non-question with a reserved marker prefix; the
// rewriter strips the marker and records it in IsQuestion instead, so Text
// never carries the marker.
//
// # Example
//
//	q := NonQuestion("terima kasih")
//	q.Prompt("[NOT_QUESTION]") // "[NOT_QUESTION] terima kasih"
type StandaloneQuestion struct {
	// Text is the question, or the original input for a non-question.
	Text string `json:"text"`

	// IsQuestion is false when the model flagged the input as not a question.
	IsQuestion bool `json:"is_question"`
}

// Question returns a genuine standalone question.
func Question(text string) StandaloneQuestion {
	return StandaloneQuestion{Text: text, IsQuestion: true}
}

// NonQuestion returns a flagged non-question.
func NonQuestion(text string) StandaloneQuestion {
	return StandaloneQuestion{Text: text, IsQuestion: false}
}

// Prompt renders the question as it appears in prompts: the plain text for a
// question, the marker followed by a space and the text for a non-question.
func (q StandaloneQuestion) Prompt(marker string) string {
	if q.IsQuestion {
		return q.Text
	}
	return marker + " " + q.Text
}

// Topic is the closed set of intent labels.
type Topic string

const (
	TopicTroubleshooting      Topic = "troubleshooting"
	TopicProduct              Topic = "product"
	TopicProductSearchByPrice Topic = "product_search_by_price"
	TopicUnclassified         Topic = "unclassified"
)

// TopicDescription pairs a topic with the explanation shown to the model.
type TopicDescription struct {
	Topic       Topic
	Description string
}

// ClassifiableTopics are the topics the classifier prompt offers, in order.
// TopicUnclassified is not offered; it is the fallback.
var ClassifiableTopics = []TopicDescription{
	{
		Topic:       TopicTroubleshooting,
		Description: "the customer reports a problem or asks for help with a Smartfren service, for example no signal, slow internet, a package that is not active, SIM card or device issues, or account problems",
	},
	{
		Topic:       TopicProduct,
		Description: "the customer asks about Smartfren itself or about its products, packages, devices or services",
	},
	{
		Topic:       TopicProductSearchByPrice,
		Description: "the customer looks for products within a price range or budget, for example products under 50000 or packages between 50rb and 100rb",
	},
}

// IsKnown reports whether t is one of the four topics.
func (t Topic) IsKnown() bool {
	switch t {
	case TopicTroubleshooting, TopicProduct, TopicProductSearchByPrice, TopicUnclassified:
		return true
	}
	return false
}

// maxTopicWords is the word count of the longest label.
const maxTopicWords = 4

// ParseTopic extracts the first known topic label from a model response.
//
// # Description
//
// Matching is case-insensitive. Punctuation, quotes and markdown around the
// label are ignored. Hyphens and whitespace between words are read as
// underscores, so "Troubleshooting.", "**product**", "product-search-by-price"
// and "Product search by price" all parse. At each word the longest label
// starting there wins.
//
// # Outputs
//
//   - Topic: The first recognized label.
//   - bool: False when no run of words of the response is a topic label.
func ParseTopic(raw string) (Topic, bool) {
	normalized := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r
		}
		return ' '
	}, strings.ToLower(raw))

	words := strings.Fields(normalized)
	for i := range words {
		for n := min(maxTopicWords, len(words)-i); n > 0; n-- {
			if t := Topic(strings.Join(words[i:i+n], "_")); t.IsKnown() {
				return t, true
			}
		}
	}
	return "", false
}

// Classification is the result of intent classification.
type Classification struct {
	Topic Topic `json:"topic"`

	// Fallback is true when Topic is the unclassified fallback after a
	// classification failure.
	Fallback bool `json:"fallback"`

	// Reason explains a fallback or a skipped model call; empty otherwise.
	Reason string `json:"reason,omitempty"`
}

// Classification reasons.
const (
	ReasonNonQuestion       = "non_question"
	ReasonLLMError          = "llm_error"
	ReasonUnrecognizedLabel = "unrecognized_label"
)

// RewriterConfig holds configuration for the query rewriter.
type RewriterConfig struct {
	// SkipWithoutHistory passes the message through unchanged, as a question,
	// when there is no chat history. Skipping saves a model call but loses
	// non-question detection on the first turn.
	// Default: false (can be set via REWRITE_SKIP_WITHOUT_HISTORY)
	SkipWithoutHistory bool
}

// DefaultRewriterConfig returns the default rewriter configuration.
func DefaultRewriterConfig() RewriterConfig {
	return RewriterConfig{
		SkipWithoutHistory: envutil.Bool("REWRITE_SKIP_WITHOUT_HISTORY", false),
	}
}
