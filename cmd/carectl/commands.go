// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCare/pkg/ux"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

const (
	defaultOrchestratorURL = "http://localhost:12210"
	envOrchestratorURL     = "CARE_ORCHESTRATOR_URL"
	envIngestAPIKey        = "CARE_INGEST_API_KEY"
)

// reportedError marks an error that was already printed to the user.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error { return &reportedError{err: err} }

// cliOptions holds the persistent flags shared by every command.
type cliOptions struct {
	url     string
	apiKey  string
	timeout time.Duration
	noColor bool
	plain   bool

	stdout io.Writer
	stderr io.Writer
}

func (o *cliOptions) client() *careClient {
	return newCareClient(o.url, o.apiKey, o.timeout)
}

// printers returns the stdout and stderr printers. Color is used only when
// the stream is a terminal and not disabled by flag or NO_COLOR.
func (o *cliOptions) printers() (*ux.Printer, *ux.Printer) {
	return ux.NewPrinter(o.stdout, o.colorFor(o.stdout)), ux.NewPrinter(o.stderr, o.colorFor(o.stderr))
}

func (o *cliOptions) colorFor(w io.Writer) bool {
	if o.noColor || o.plain {
		return false
	}
	f, ok := w.(*os.File)
	return ok && ux.ColorEnabled(f)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &cliOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "carectl",
		Short: "Ask the AleutianCare support assistant and manage its knowledge base",
		Long: `carectl is the command line client for the AleutianCare orchestrator.
It streams answers from the support assistant and loads product and
troubleshooting documents into its knowledge base.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	url := os.Getenv(envOrchestratorURL)
	if url == "" {
		url = defaultOrchestratorURL
	}
	root.PersistentFlags().StringVar(&opts.url, "url", url, "Orchestrator base URL (env "+envOrchestratorURL+")")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Overall request timeout")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newAskCmd(opts))
	root.AddCommand(newIngestCmd(opts))
	return root
}

// --- Ask ---

func newAskCmd(opts *cliOptions) *cobra.Command {
	var (
		sessionID string
		history   []string
		verify    bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the support assistant a question and stream the answer",
		Example: `  carectl ask "kuota saya habis, gimana cek sisanya?"
  carectl ask --history "user:paket apa yang murah?" --history "assistant:Paket Harian 49rb." "yang unlimited ada?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			messages, err := parseHistory(history)
			if err != nil {
				return err
			}
			messages = append(messages, datatypes.Message{Role: "user", Content: strings.Join(args, " ")})

			return runAsk(cmd, opts, datatypes.ChatRequest{SessionID: sessionID, Messages: messages}, verify)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID sent with the request")
	cmd.Flags().StringArrayVar(&history, "history", nil, `Earlier turn as "role:content", repeatable, oldest first`)
	cmd.Flags().BoolVar(&verify, "verify", true, "Verify the stream's hash chain")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Print only the answer text")
	return cmd
}

func runAsk(cmd *cobra.Command, opts *cliOptions, req datatypes.ChatRequest, verify bool) error {
	out, errOut := opts.printers()

	result, err := opts.client().Ask(cmd.Context(), req, func(event datatypes.StreamEvent) error {
		switch event.Type {
		case datatypes.EventStatus:
			if !opts.plain {
				out.Muted(event.Message)
			}
		case datatypes.EventToken:
			out.Token(event.Content)
		}
		return nil
	})
	if result != nil && result.Answer != "" {
		out.Newline()
	}
	if err != nil {
		errOut.Error(err.Error())
		return reported(err)
	}

	if result.Failed() {
		errOut.Error(fmt.Sprintf("%s (status %d)", result.Error, result.Status))
		return reported(fmt.Errorf("chat failed: %s", result.Error))
	}

	if verify {
		if err := datatypes.VerifyChain(result.Events); err != nil {
			errOut.Warning(err.Error())
			return reported(err)
		}
	}

	if !opts.plain {
		out.Sources(result.Topic, result.Sources)
		if result.RequestID != "" {
			out.Muted("request " + result.RequestID)
		}
	}
	return nil
}

// parseHistory turns "role:content" flags into messages.
func parseHistory(turns []string) ([]datatypes.Message, error) {
	messages := make([]datatypes.Message, 0, len(turns)+1)
	for _, turn := range turns {
		role, content, ok := strings.Cut(turn, ":")
		role = strings.TrimSpace(role)
		if !ok || strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("invalid --history %q: want role:content", turn)
		}
		switch role {
		case "user", "assistant", "system":
		default:
			return nil, fmt.Errorf("invalid --history role %q: want user, assistant or system", role)
		}
		messages = append(messages, datatypes.Message{Role: role, Content: strings.TrimSpace(content)})
	}
	return messages, nil
}

// --- Ingest ---

func newIngestCmd(opts *cliOptions) *cobra.Command {
	var doc documentFlags

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Load knowledge documents into the assistant's knowledge base",
		Long: `Load knowledge documents into the assistant's knowledge base.

A .json file holds {"documents": [...]} or a bare list of documents, each
with content, type, topic and source. Any other file is sent as a single
document using its path as the source and --type and --topic.`,
		Example: `  carectl ingest catalog.json
  carectl ingest --type troubleshooting --topic kuota faq/kuota.md`,
		Aliases: []string{"i"},
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.apiKey == "" {
				opts.apiKey = os.Getenv(envIngestAPIKey)
			}
			return runIngest(cmd, opts, doc, args)
		},
	}

	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "Ingest API key (env "+envIngestAPIKey+")")
	cmd.Flags().StringVar(&doc.docType, "type", "", "Document type for non-JSON files: product or troubleshooting")
	cmd.Flags().StringVar(&doc.topic, "topic", "", "Topic for non-JSON files")
	cmd.Flags().IntVar(&doc.batch, "batch", 100, "Documents per request")
	return cmd
}

func runIngest(cmd *cobra.Command, opts *cliOptions, flags documentFlags, paths []string) error {
	out, errOut := opts.printers()

	docs, err := loadDocuments(paths, flags)
	if err != nil {
		errOut.Error(err.Error())
		return reported(err)
	}

	batch := flags.batch
	if batch <= 0 {
		batch = 100
	}

	client := opts.client()
	total := 0
	for start := 0; start < len(docs); start += batch {
		end := min(start+batch, len(docs))
		resp, err := client.Ingest(cmd.Context(), datatypes.IngestRequest{Documents: docs[start:end]})
		if err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status == 401 {
				errOut.Error("ingest rejected: check --api-key or " + envIngestAPIKey)
			} else {
				errOut.Error(err.Error())
			}
			return reported(err)
		}
		total += resp.ChunksCreated
	}

	out.Success(fmt.Sprintf("Ingested %d documents as %d chunks", len(docs), total))
	return nil
}
