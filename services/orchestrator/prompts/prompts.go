// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts holds the prompt templates of the answering pipeline as
// versioned configuration.
//
// # Description
//
// The default set is embedded from prompts.yaml. Deployments may point
// PROMPTS_FILE at another YAML document; its entries override the defaults
// key by key. Every set is validated on load: each template must exist and
// may only use the placeholders declared for it in placeholderSpec.
//
// # Placeholders
//
// Templates use {name} placeholders. Text such as {"query": ...} is left
// untouched because only lowercase identifiers in braces are placeholders.
package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultYAML []byte

// Template names.
const (
	CondenseQuestion = "condense_question"
	ClassifyIntent   = "classify_intent"
	MultiQuery       = "multi_query"
	SelfQuery        = "self_query"
	Answer           = "answer"
)

// Section label keys.
const (
	LabelTroubleshooting = "troubleshooting"
	LabelProducts        = "products"
)

type placeholders struct {
	allowed  []string
	required []string
}

// placeholderSpec declares what each template may and must reference.
var placeholderSpec = map[string]placeholders{
	CondenseQuestion: {allowed: []string{"chat_history", "question"}, required: []string{"question"}},
	ClassifyIntent:   {allowed: []string{"chat_history", "question", "topics"}, required: []string{"question", "topics"}},
	MultiQuery:       {allowed: []string{"question", "count"}, required: []string{"question"}},
	SelfQuery:        {allowed: []string{"question", "document_contents", "attributes"}, required: []string{"question", "attributes"}},
	Answer:           {allowed: []string{"context", "chat_history", "question"}, required: []string{"context", "question"}},
}

// ErrRender is wrapped by every Render failure.
var ErrRender = errors.New("prompt render failed")

var placeholderRE = regexp.MustCompile(`\{([a-z_]+)\}`)

// Set is one complete, validated collection of prompts.
type Set struct {
	Version           string            `yaml:"version"`
	NonQuestionMarker string            `yaml:"non_question_marker"`
	SectionLabels     map[string]string `yaml:"section_labels"`
	Templates         map[string]string `yaml:"templates"`
}

// Default returns a fresh copy of the embedded prompt set.
func Default() *Set {
	set, err := parseYAML(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	if err := set.Validate(); err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return set
}

// Parse reads a YAML override document on top of the defaults and validates
// the result.
func Parse(data []byte) (*Set, error) {
	override, err := parseYAML(data)
	if err != nil {
		return nil, err
	}
	set := Default()
	if override.Version != "" {
		set.Version = override.Version
	}
	if override.NonQuestionMarker != "" {
		set.NonQuestionMarker = override.NonQuestionMarker
	}
	for k, v := range override.SectionLabels {
		set.SectionLabels[k] = v
	}
	for k, v := range override.Templates {
		set.Templates[k] = v
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Load reads and parses a prompt file.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid prompts file %s: %w", path, err)
	}
	return set, nil
}

func parseYAML(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse prompts yaml: %w", err)
	}
	if set.SectionLabels == nil {
		set.SectionLabels = map[string]string{}
	}
	if set.Templates == nil {
		set.Templates = map[string]string{}
	}
	return &set, nil
}

// Validate checks that every template exists and uses only its declared placeholders.
func (s *Set) Validate() error {
	if strings.TrimSpace(s.NonQuestionMarker) == "" {
		return fmt.Errorf("non_question_marker is empty")
	}
	for _, key := range []string{LabelTroubleshooting, LabelProducts} {
		if strings.TrimSpace(s.SectionLabels[key]) == "" {
			return fmt.Errorf("section label %q is missing", key)
		}
	}

	names := make([]string, 0, len(placeholderSpec))
	for name := range placeholderSpec {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := placeholderSpec[name]
		tmpl, ok := s.Templates[name]
		if !ok || strings.TrimSpace(tmpl) == "" {
			return fmt.Errorf("template %q is missing", name)
		}
		used := Placeholders(tmpl)
		for _, p := range used {
			if !contains(spec.allowed, p) {
				return fmt.Errorf("template %q uses unknown placeholder {%s}", name, p)
			}
		}
		for _, p := range spec.required {
			if !contains(used, p) {
				return fmt.Errorf("template %q must reference {%s}", name, p)
			}
		}
	}
	return nil
}

// Render fills the named template. Every placeholder in the template must have
// a value in vars.
func (s *Set) Render(name string, vars map[string]string) (string, error) {
	tmpl, ok := s.Templates[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown prompt template %q", ErrRender, name)
	}
	var missing []string
	out := placeholderRE.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := vars[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: prompt %q is missing values for %s", ErrRender, name, strings.Join(missing, ", "))
	}
	return out, nil
}

// Label returns the section label for key, or key itself when unset.
func (s *Set) Label(key string) string {
	if l, ok := s.SectionLabels[key]; ok && l != "" {
		return l
	}
	return key
}

// Placeholders lists the distinct placeholders of a template in order of first use.
func Placeholders(tmpl string) []string {
	var out []string
	for _, m := range placeholderRE.FindAllStringSubmatch(tmpl, -1) {
		if !contains(out, m[1]) {
			out = append(out, m[1])
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
