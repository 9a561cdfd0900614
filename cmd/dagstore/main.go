// Command dagstore is a small tool over the DAG store: raw key/value access
// through the request dispatcher, plus head and chunk inspection against a
// database file.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"dagstore/internal/dag"
	"dagstore/internal/dispatch"
	"dagstore/internal/kv"
	"dagstore/internal/kv/boltstore"
	"dagstore/internal/logging"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "dagstore",
		Short:         "Transactional content-addressed DAG store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("home", ".", "directory holding database files")
	rootCmd.PersistentFlags().String("db", "default", "database name")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().Bool("compress", false, "compress stored values with zstd")

	rootCmd.AddCommand(
		newGetCmd(),
		newPutCmd(),
		newHasCmd(),
		newHeadCmd(),
		newChunkCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loggerFromCmd(cmd *cobra.Command) (*slog.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	return logging.New(os.Stderr, format, level)
}

// openerFromCmd builds the dispatcher's database opener: one bolt file per
// database name under --home.
func openerFromCmd(cmd *cobra.Command, logger *slog.Logger) dispatch.Opener {
	home, _ := cmd.Flags().GetString("home")
	compress, _ := cmd.Flags().GetBool("compress")
	return func(_ context.Context, name string) (kv.Store, error) {
		return boltstore.Open(filepath.Join(home, name+".db"), boltstore.Options{
			Compress: compress,
			Logger:   logger,
		})
	}
}

// withDispatcher runs f against a dispatcher with the selected database
// opened.
func withDispatcher(cmd *cobra.Command, f func(ctx context.Context, d *dispatch.Dispatcher, db string) error) error {
	logger, err := loggerFromCmd(cmd)
	if err != nil {
		return err
	}
	db, _ := cmd.Flags().GetString("db")

	d := dispatch.New(openerFromCmd(cmd, logger), logger)
	defer d.Close()

	ctx := cmd.Context()
	if _, err := d.Dispatch(ctx, db, "open", ""); err != nil {
		return err
	}
	return f(ctx, d, db)
}

// withStore runs f against a dag.Store over the selected database.
func withStore(cmd *cobra.Command, f func(ctx context.Context, s *dag.Store) error) error {
	logger, err := loggerFromCmd(cmd)
	if err != nil {
		return err
	}
	home, _ := cmd.Flags().GetString("home")
	db, _ := cmd.Flags().GetString("db")
	compress, _ := cmd.Flags().GetBool("compress")

	kvs, err := boltstore.Open(filepath.Join(home, db+".db"), boltstore.Options{
		Compress: compress,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	s := dag.NewStore(kvs, logger)
	defer s.Close()
	return f(cmd.Context(), s)
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a raw value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(cmd, func(ctx context.Context, d *dispatch.Dispatcher, db string) error {
				payload, _ := json.Marshal(map[string]string{"key": args[0]})
				out, err := d.Dispatch(ctx, db, "get", string(payload))
				if err != nil {
					return err
				}
				var resp struct {
					Value *string `json:"value"`
					Has   bool    `json:"has"`
				}
				if err := json.Unmarshal([]byte(out), &resp); err != nil {
					return err
				}
				if !resp.Has {
					return fmt.Errorf("key %q not found", args[0])
				}
				fmt.Println(*resp.Value)
				return nil
			})
		},
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Write a raw value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(cmd, func(ctx context.Context, d *dispatch.Dispatcher, db string) error {
				payload, _ := json.Marshal(map[string]string{"key": args[0], "value": args[1]})
				_, err := d.Dispatch(ctx, db, "put", string(payload))
				return err
			})
		},
	}
}

func newHasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "has <key>",
		Short: "Check whether a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(cmd, func(ctx context.Context, d *dispatch.Dispatcher, db string) error {
				payload, _ := json.Marshal(map[string]string{"key": args[0]})
				out, err := d.Dispatch(ctx, db, "has", string(payload))
				if err != nil {
					return err
				}
				var resp struct {
					Has bool `json:"has"`
				}
				if err := json.Unmarshal([]byte(out), &resp); err != nil {
					return err
				}
				fmt.Println(resp.Has)
				return nil
			})
		},
	}
}

func newHeadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "head",
		Short: "Inspect and move named heads",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <name>",
		Short: "Print the hash a head points at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *dag.Store) error {
				return s.View(ctx, func(r dag.Read) error {
					hash, ok, err := r.GetHead(ctx, args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("head %q not set", args[0])
					}
					fmt.Println(hash)
					return nil
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <hash>",
		Short: "Point a head at a hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *dag.Store) error {
				return s.Update(ctx, func(w *dag.Write) error {
					return w.SetHead(ctx, args[0], args[1])
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a head, unpinning what it kept alive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *dag.Store) error {
				return s.Update(ctx, func(w *dag.Write) error {
					return w.DeleteHead(ctx, args[0])
				})
			})
		},
	})

	return cmd
}

func newChunkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chunk <hash>",
		Short: "Print a chunk's data and refs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *dag.Store) error {
				return s.View(ctx, func(r dag.Read) error {
					c, ok, err := r.GetChunk(ctx, args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("chunk %q not found", args[0])
					}
					fmt.Printf("hash: %s\n", c.Hash())
					fmt.Printf("size: %d\n", len(c.Data()))
					for _, ref := range c.Refs() {
						fmt.Printf("ref:  %s\n", ref)
					}
					os.Stdout.Write(c.Data())
					fmt.Println()
					return nil
				})
			})
		},
	}
}
