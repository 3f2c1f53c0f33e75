package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/app"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/server"
)

var runOpts struct {
	model       string
	searchModel string
	maxSearches int
	requirement string
}

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Run one research job and print its progress and report",
	Long: `run executes a research job in this process. Progress goes to stderr and
the final report to stdout. Without a query argument it asks for one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := ""
		if len(args) == 1 {
			query = args[0]
		} else {
			fmt.Fprint(cmd.ErrOrStderr(), "Enter research query: ")
			input, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			query = strings.TrimSpace(input)
		}
		if strings.TrimSpace(query) == "" {
			return errors.New("query cannot be empty")
		}

		req := server.CreateResearchRequest{
			Query:             query,
			Model:             runOpts.model,
			SearchModel:       runOpts.searchModel,
			CustomRequirement: runOpts.requirement,
		}
		if cmd.Flags().Changed("max-searches") {
			req.MaxSearches = &runOpts.maxSearches
		}

		ctx := cmd.Context()
		a, err := app.New(ctx, cfg, logger, version)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
			defer cancel()
			_ = a.Close(closeCtx)
		}()

		return runResearch(ctx, a.Service, req, cmd.ErrOrStderr(), cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.model, "model", "m", "", "model for query generation and the report (default DEFAULT_MODEL)")
	runCmd.Flags().StringVar(&runOpts.searchModel, "search-model", "", "model for distilling search results (default --model)")
	runCmd.Flags().IntVarP(&runOpts.maxSearches, "max-searches", "n", 0, "maximum number of web searches (default DEFAULT_MAX_SEARCHES)")
	runCmd.Flags().StringVarP(&runOpts.requirement, "requirement", "r", "", "extra writing instructions for the report")
}

// runResearch creates the job and follows its update stream until the
// record is terminal. The report goes to out; everything else to progress.
func runResearch(ctx context.Context, svc *server.Service, req server.CreateResearchRequest, progress, out io.Writer) error {
	rec, err := svc.CreateResearch(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(progress, "Research %s started (model %s)\n", rec.ID, rec.Model)

	next, err := svc.Stream(ctx, rec.ID)
	if err != nil {
		return err
	}
	for ev, err := range next {
		if err != nil {
			return err
		}
		switch ev.Kind {
		case research.EventSnapshot:
			fmt.Fprintf(progress, "Status: %s\n", ev.Record.Status)
			for _, l := range ev.Record.Learnings {
				fmt.Fprintf(progress, "  + %s\n", l)
			}
		case research.EventStatus:
			fmt.Fprintf(progress, "Status: %s\n", ev.Status)
		case research.EventLearnings:
			for _, l := range ev.Learnings {
				fmt.Fprintf(progress, "  + %s\n", l)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	final, err := svc.GetResearch(ctx, rec.ID)
	if err != nil {
		return err
	}
	switch final.Status.Stage {
	case research.StageCompleted:
		fmt.Fprintln(out, final.Report)
		return nil
	case research.StageNoResults:
		return errors.New("research finished without learnings")
	default:
		return fmt.Errorf("research failed: %s", final.Error)
	}
}
