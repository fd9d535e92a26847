// Command datastore inspects and edits a data store from the shell.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"runtime"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastore/pkg/config"
	"github.com/ajitpratap0/datastore/pkg/datastore"
	"github.com/ajitpratap0/datastore/pkg/logger"
	"github.com/ajitpratap0/datastore/pkg/observability"
	"github.com/ajitpratap0/datastore/pkg/schema"
	"github.com/ajitpratap0/datastore/pkg/storage"
	"github.com/ajitpratap0/datastore/pkg/types"
)

var version = "0.1.0"

// globalFlags are shared by every command that opens a store.
type globalFlags struct {
	root       string
	configFile string
	logLevel   string

	// shutdown flushes pending trace spans
	shutdown func(context.Context) error
}

func main() {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "datastore",
		Short:         "Embedded columnar data store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.root, "root", "", "Storage root directory (overrides the config file)")
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to a YAML, JSON or TOML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "datastore v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(
		tablesCmd(&flags),
		schemaCmd(&flags),
		filesCmd(&flags),
		scanCmd(&flags),
		putCmd(&flags),
	)

	err := root.Execute()
	if flags.shutdown != nil {
		if serr := flags.shutdown(context.Background()); serr != nil {
			fmt.Fprintln(os.Stderr, serr)
		}
	}
	// os.Exit skips deferred calls
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration from the config file, the
// environment and the command line, and initializes the global logger.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configFile == "" && flags.root != "" {
		cfg = config.NewConfig(flags.root)
	} else {
		cfg, err = config.Load(flags.configFile)
		if err != nil {
			return nil, err
		}
	}
	if flags.root != "" {
		cfg.Storage.Root = flags.root
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging.Logger()); err != nil {
		return nil, err
	}
	if flags.shutdown, err = observability.Init(cfg.Tracing.Observability()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(flags *globalFlags) (*datastore.Store, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return datastore.Open(*cfg, datastore.WithLogger(logger.Get().With(zap.String("component", "datastore-cli"))))
}

func tablesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List every table under the storage root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			names, err := store.Tables()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func schemaCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <table>",
		Short: "Print the schema of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			sch, err := store.Schema(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key: %s\n", sch.KeyColumn)
			for _, c := range sch.Columns() {
				fmt.Fprintf(out, "%s\t%s\n", c.Name, c.Type)
			}
			return nil
		},
	}
}

func filesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "files <table>",
		Short: "List the live files of a table in merge order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			live, err := storage.ListLiveFiles(filepath.Join(store.Root(), filepath.FromSlash(args[0])))
			if err != nil {
				return err
			}
			for _, path := range live {
				fmt.Fprintln(cmd.OutOrStdout(), filepath.Base(path))
			}
			return nil
		},
	}
}

func scanCmd(flags *globalFlags) *cobra.Command {
	var (
		start, end   string
		columns      []string
		explicitNone bool
	)
	cmd := &cobra.Command{
		Use:   "scan <table> [table...]",
		Short: "Print the rows of one or more tables as JSON lines",
		Long: `Print the rows of one or more tables as JSON lines, ordered by key.
Rows of several tables that share a key are joined into one row.

Example:
  datastore scan runs/eval runs/train --columns step,runs/eval.loss=eval_loss --start 100`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			sch, err := store.Schema(args[0])
			if err != nil {
				return err
			}
			keyType, _ := sch.KeyType()
			opts := datastore.ScanOptions{Columns: parseColumns(columns)}
			if opts.Start, err = parseKey(start, keyType); err != nil {
				return err
			}
			if opts.End, err = parseKey(end, keyType); err != nil {
				return err
			}

			tables := make([]datastore.TableDesc, 0, len(args))
			for _, name := range args {
				tables = append(tables, datastore.TableDesc{Name: name, ExplicitNone: explicitNone})
			}
			seq, err := store.ScanTables(tables, opts)
			if err != nil {
				return err
			}
			return writeRecords(cmd.OutOrStdout(), seq)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Inclusive lower key bound")
	cmd.Flags().StringVar(&end, "end", "", "Exclusive upper key bound")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to print, as name or name=output (default all)")
	cmd.Flags().BoolVar(&explicitNone, "explicit-none", false, "Print null for every missing column")
	return cmd
}

func writeRecords(w io.Writer, seq iter.Seq2[types.Record, error]) error {
	out := bufio.NewWriter(w)
	enc := json.NewEncoder(out)
	for r, err := range seq {
		if err != nil {
			return err
		}
		row := make(map[string]any, len(r))
		for name, v := range r {
			row[name] = v.Any()
		}
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return out.Flush()
}

func putCmd(flags *globalFlags) *cobra.Command {
	var (
		key   string
		input string
	)
	cmd := &cobra.Command{
		Use:   "put <table>",
		Short: "Insert JSON lines into a table",
		Long: `Insert one JSON object per line into a table. Objects with "-": true
delete their key. Changes are written to disk before the command exits.

Example:
  echo '{"step": 1, "loss": 0.5}' | datastore put runs/train --key step`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, err := openStore(flags)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := store.Close(); err == nil {
					err = cerr
				}
			}()

			r := cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			w, err := store.Writer(args[0], schema.New(key))
			if err != nil {
				return err
			}
			n := 0
			err = decodeRecords(r, func(rec types.Record) error {
				n++
				if rec.IsDeleted() {
					k, ok := rec[key]
					if !ok {
						return fmt.Errorf("record %d: delete without key %q", n, key)
					}
					return w.Delete(k)
				}
				return w.Insert(rec)
			})
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			logger.Get().Info("put records", zap.String("table", args[0]), zap.Int("records", n))
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "Key column (required)")
	cmd.Flags().StringVarP(&input, "file", "f", "-", "JSON lines file, - for stdin")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
