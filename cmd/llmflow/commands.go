package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dshills/llm-workflows/graph/model"
	"github.com/dshills/llm-workflows/rag"
	"github.com/dshills/llm-workflows/workflows/dataframe"
	"github.com/dshills/llm-workflows/workflows/router"
	"github.com/dshills/llm-workflows/workflows/sqlgen"
)

func newRouteCmd() *cobra.Command {
	var recordsFile, insuranceFile string
	cmd := &cobra.Command{
		Use:   "route <query>",
		Short: "Classify a query, retrieve from the matching corpus and answer it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(settings)
			defer a.Close()

			wf, err := buildRouter(cmd.Context(), a, recordsFile, insuranceFile)
			if err != nil {
				return errors.Wrap(err, "build router")
			}
			out, err := wf.Run(cmd.Context(), router.Input{UserQuery: strings.Join(args, " ")})
			if err != nil {
				return errors.Wrap(err, "route")
			}
			log.Debug().Int("documents", len(out.Documents)).Msg("route finished")
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out.Answer)
			return err
		},
	}
	cmd.Flags().StringVar(&recordsFile, "records", "", "Text file to ingest into the medical records corpus")
	cmd.Flags().StringVar(&insuranceFile, "insurance", "", "Text file to ingest into the insurance FAQ corpus")
	return cmd
}

func newSQLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sql <question>",
		Short: "Generate a SQL query for a question and explain it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(settings)
			defer a.Close()

			wf, err := buildSQL(a)
			if err != nil {
				return errors.Wrap(err, "build sql workflow")
			}
			out, err := wf.Run(cmd.Context(), sqlgen.Input{UserQuery: strings.Join(args, " ")})
			if err != nil {
				return errors.Wrap(err, "sql")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n%s\n", out.SQLQuery, out.SQLExplanation)
			return err
		},
	}
}

func newDataframeCmd() *cobra.Command {
	var csvPath, table string
	var showSteps bool
	cmd := &cobra.Command{
		Use:   "dataframe --csv <file> <question>",
		Short: "Answer a question about a CSV file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(settings)
			defer a.Close()
			ctx := cmd.Context()

			db, err := dataframe.OpenMemoryDB()
			if err != nil {
				return err
			}
			defer db.Close()
			frame, err := dataframe.LoadCSVFile(ctx, db, table, csvPath)
			if err != nil {
				return errors.Wrapf(err, "load %s", csvPath)
			}

			m, err := a.chatModel(model.LowVariability)
			if err != nil {
				return err
			}
			newAgent, err := dataframeAgents(a, m)
			if err != nil {
				return err
			}
			agent, err := newAgent(db, frame)
			if err != nil {
				return errors.Wrap(err, "build agent")
			}
			out, err := agent.Run(ctx, dataframe.Input{Query: strings.Join(args, " ")})
			if err != nil {
				return errors.Wrap(err, "dataframe")
			}

			w := cmd.OutOrStdout()
			if showSteps {
				for i, s := range out.Steps {
					if _, err := fmt.Fprintf(w, "[%d] %s %v\n%s\n\n", i+1, s.Tool, s.Input, s.Output); err != nil {
						return err
					}
				}
			}
			_, err = fmt.Fprintln(w, out.Answer)
			return err
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV file with a header row")
	cmd.Flags().StringVar(&table, "table", "", "Table name (default: derived from the file name)")
	cmd.Flags().BoolVar(&showSteps, "steps", false, "Print the queries the agent ran")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var collection string
	var tokens bool
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Split, embed and store text files in a vector collection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(settings)
			defer a.Close()
			ctx := cmd.Context()

			if collection == "" {
				collection = a.cfg.Vector.Collection
			}
			if a.cfg.Vector.Backend == "memory" {
				log.Warn().Msg("memory vector backend: ingested chunks are discarded on exit")
			}
			st, err := a.vectorStore(ctx, collection)
			if err != nil {
				return err
			}
			splitter := a.splitter()
			if tokens {
				length, err := rag.TokenLength()
				if err != nil {
					return err
				}
				splitter.Length = length
			}

			total := 0
			for _, path := range args {
				doc, err := rag.LoadTextFile(path)
				if err != nil {
					return err
				}
				ids, err := rag.Ingest(ctx, st, splitter, doc)
				if err != nil {
					return errors.Wrapf(err, "ingest %s", path)
				}
				total += len(ids)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ingested %d chunks into %s\n", total, collection)
			return err
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Vector collection (default: vector.collection)")
	cmd.Flags().BoolVar(&tokens, "tokens", false, "Measure chunk size in cl100k tokens instead of characters")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var collection, seedFile string
	var k int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Return the documents most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(settings)
			defer a.Close()
			ctx := cmd.Context()

			if collection == "" {
				collection = a.cfg.Vector.Collection
			}
			if k <= 0 {
				k = a.cfg.Vector.K
			}
			st, err := a.vectorStore(ctx, collection)
			if err != nil {
				return err
			}
			if err := a.seed(ctx, st, seedFile); err != nil {
				return err
			}
			docs, err := st.SimilaritySearch(ctx, strings.Join(args, " "), k)
			if err != nil {
				return errors.Wrap(err, "search")
			}
			for i, d := range docs {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s\n", i+1, d.String()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Vector collection (default: vector.collection)")
	cmd.Flags().StringVar(&seedFile, "file", "", "Text file to ingest before searching")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of results (default: vector.k)")
	return cmd
}
