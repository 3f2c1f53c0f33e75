package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/keycheck"
)

var checkKeysCmd = &cobra.Command{
	Use:   "check-keys",
	Short: "Check the configured API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		checker := keycheck.New(keycheck.Keys{
			GeminiAPIKey:    cfg.GeminiAPIKey,
			GeminiBaseURL:   cfg.GeminiBaseURL,
			OpenAIAPIKey:    cfg.OpenAIAPIKey,
			OpenAIBaseURL:   cfg.OpenAIBaseURL,
			AnthropicAPIKey: cfg.AnthropicAPIKey,
			TavilyAPIKey:    cfg.TavilyAPIKey,
			TavilyBaseURL:   cfg.TavilyBaseURL,
			SearchProvider:  cfg.SearchProvider,
		})
		results := checker.Run(cmd.Context())
		if !printKeyReport(cmd.OutOrStdout(), results) {
			return errors.New("configuration incomplete")
		}
		return nil
	},
}

var levelMarks = map[keycheck.Level]string{
	keycheck.LevelOK:      "[ok]  ",
	keycheck.LevelInfo:    "[info]",
	keycheck.LevelWarning: "[warn]",
	keycheck.LevelFailed:  "[fail]",
}

func printKeyReport(w io.Writer, results []keycheck.Result) bool {
	fmt.Fprintln(w, "=== API key configuration ===")
	for _, r := range results {
		for _, n := range r.Notes {
			fmt.Fprintf(w, "%s %s\n", levelMarks[n.Level], n.Message)
		}
	}

	ok, problems := keycheck.Summary(results)
	fmt.Fprintln(w, "\n=== Summary ===")
	if ok {
		fmt.Fprintln(w, "Minimal configuration is complete.")
	}
	for _, p := range problems {
		fmt.Fprintf(w, "%s %s\n", levelMarks[keycheck.LevelFailed], p)
	}
	for _, r := range results {
		if (r.Name == "OpenAI" || r.Name == "Anthropic") && r.Usable {
			fmt.Fprintf(w, "%s %s models are available to use.\n", levelMarks[keycheck.LevelOK], r.Name)
		}
	}
	return ok
}
