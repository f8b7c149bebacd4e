// Command fabdata edits, exports and archives run records.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/clayfab/internal/fabdata"
	"github.com/banshee-data/clayfab/internal/monitoring"
	"github.com/banshee-data/clayfab/internal/report"
	"github.com/banshee-data/clayfab/internal/rundb"
	"github.com/banshee-data/clayfab/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger is swapped out by tests.
var newLogger = monitoring.NewZapLogger

func newRootCmd() *cobra.Command {
	var verbose bool
	var logger *zap.Logger
	root := &cobra.Command{
		Use:          "fabdata",
		Short:        "Edit, export and archive fabrication run records",
		Version:      version.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = newLogger(verbose)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			monitoring.UseZap(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	root.SetVersionTemplate(version.String("fabdata") + "\n")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log unmodified elements too")

	records := fabdata.NewRecords(nil)
	root.AddCommand(
		newUpdateCmd(records),
		newMarkPlacedCmd(records),
		newRenumberCmd(records),
		newCSVCmd(records),
		newAvgCycleTimeCmd(records),
		newPlotCmd(records),
		newArchiveCmd(records),
	)
	return root
}

// parseAttr splits key=value. Values that decode as JSON keep their type,
// anything else is a string.
func parseAttr(s string) (string, any, error) {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return "", nil, fmt.Errorf("attribute %q must be key=value", s)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return key, raw, nil
	}
	return key, v, nil
}

func printUpdates(cmd *cobra.Command, updates []fabdata.ElementUpdate) {
	n := 0
	for _, u := range updates {
		if u.Modified {
			n++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d elements modified\n", n, len(updates))
}

func newUpdateCmd(records *fabdata.Records) *cobra.Command {
	var opts fabdata.UpdateOptions
	cmd := &cobra.Command{
		Use:   "update RUN key=value...",
		Short: "Set attributes on a range of elements",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs := make(map[string]any, len(args)-1)
			for _, a := range args[1:] {
				key, v, err := parseAttr(a)
				if err != nil {
					return err
				}
				attrs[key] = v
			}
			updates, err := records.UpdateAttrs(args[0], attrs, opts)
			if err != nil {
				return err
			}
			printUpdates(cmd, updates)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.From, "from", 0, "First element index to update")
	cmd.Flags().IntVar(&opts.To, "to", 0, "End of the range, exclusive (0 means all)")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "Replace attributes that are already set")
	cmd.Flags().BoolVar(&opts.ResetIDs, "reset-ids", false, "Renumber elements by index first")
	return cmd
}

func newMarkPlacedCmd(records *fabdata.Records) *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "mark-placed RUN",
		Short: "Stamp unplaced elements with the current time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := records.MarkPlaced(args[0], from, to)
			if err != nil {
				return err
			}
			printUpdates(cmd, updates)
			return nil
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "First element index")
	cmd.Flags().IntVar(&to, "to", 0, "End of the range, exclusive (0 means all)")
	return cmd
}

func newRenumberCmd(records *fabdata.Records) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "renumber RUN",
		Short: "Give every element its index as id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return records.Renumber(args[0], prefix)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Format ids as PREFIX000")
	return cmd
}

func newCSVCmd(records *fabdata.Records) *cobra.Command {
	var clobber bool
	cmd := &cobra.Command{
		Use:   "csv PATH...",
		Short: "Write a CSV next to each run record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := records.CSVReports(args, clobber)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Skipped {
					fmt.Fprintf(cmd.OutOrStdout(), "skipped %s (exists)\n", r.Target)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", r.Target)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clobber, "clobber", false, "Overwrite existing CSV files")
	return cmd
}

func newAvgCycleTimeCmd(records *fabdata.Records) *cobra.Command {
	return &cobra.Command{
		Use:   "avg-cycle-time RUN",
		Short: "Print the mean cycle time of placed elements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			elems, err := records.LoadElements(args[0])
			if err != nil {
				return err
			}
			avg, err := fabdata.AverageCycleTime(elems)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", avg)
			return nil
		},
	}
}

func writeReport(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newPlotCmd(records *fabdata.Records) *cobra.Command {
	var htmlPath, pngPath, title string
	cmd := &cobra.Command{
		Use:   "plot RUN",
		Short: "Chart cycle times as HTML and/or PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if htmlPath == "" && pngPath == "" {
				return errors.New("at least one of --html or --png is required")
			}
			elems, err := records.LoadElements(args[0])
			if err != nil {
				return err
			}
			pts := report.CycleTimes(elems)
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			if htmlPath != "" {
				err := writeReport(htmlPath, func(f *os.File) error { return report.WriteCycleTimeHTML(f, title, pts) })
				if err != nil {
					return fmt.Errorf("html report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", htmlPath)
			}
			if pngPath != "" {
				err := writeReport(pngPath, func(f *os.File) error { return report.WriteCycleTimePNG(f, title, pts) })
				if err != nil {
					return fmt.Errorf("png report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", pngPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&htmlPath, "html", "", "Write an interactive chart here")
	cmd.Flags().StringVar(&pngPath, "png", "", "Write a static chart here")
	cmd.Flags().StringVar(&title, "title", "", "Chart title (defaults to the record name)")
	return cmd
}

func newArchiveCmd(records *fabdata.Records) *cobra.Command {
	var dbPath, runID string
	cmd := &cobra.Command{
		Use:   "archive RUN",
		Short: "Import the placed elements of a record into the run archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			elems, err := records.LoadElements(args[0])
			if err != nil {
				return err
			}
			db, err := rundb.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if runID == "" {
				runID = uuid.NewString()
			}
			run := rundb.Run{ID: runID, RunFile: args[0], StartedAt: firstPlaced(elems)}
			n, err := db.Import(cmd.Context(), run, elems)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d placements as run %s\n", n, runID)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "runs.db", "Run archive")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run id (defaults to a new UUID)")
	return cmd
}

// firstPlaced is the earliest placement time, or now when nothing is placed.
func firstPlaced(elems []*fabdata.FabricationElement) time.Time {
	var first float64
	for _, elem := range elems {
		if elem.Placed != nil && (first == 0 || *elem.Placed < first) {
			first = *elem.Placed
		}
	}
	if first == 0 {
		return time.Now()
	}
	return time.Unix(0, int64(first*float64(time.Second)))
}
