package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"menurec/internal/cachestore"
	"menurec/internal/database"
	"menurec/internal/models"
	"menurec/pkg/auth"
	"menurec/pkg/client"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "cachectl",
		Short: "Inspect and maintain the menurec recommendation cache",
		Long: `cachectl operates on the recommendation cache.

Store commands (inspect, stats, clear, repair) talk to the database directly
and need DATABASE_URL or MONGODB_URI. watch and token talk to a running server.

Examples:
  cachectl inspect --user u-123
  cachectl clear --yes
  cachectl watch --user u-123 --mode healthy --server http://localhost:3001`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("database-url", "", "mysql:// or sqlite:// DSN (env DATABASE_URL)")
	root.PersistentFlags().String("mongodb-uri", "", "MongoDB URI (env MONGODB_URI)")
	root.PersistentFlags().String("server", "http://localhost:3001", "menurec server URL (env CACHECTL_SERVER)")
	root.PersistentFlags().String("token", "", "bearer token for the server (env CACHECTL_TOKEN)")

	_ = v.BindPFlag("database_url", root.PersistentFlags().Lookup("database-url"))
	_ = v.BindPFlag("mongodb_uri", root.PersistentFlags().Lookup("mongodb-uri"))
	_ = v.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("token", root.PersistentFlags().Lookup("token"))
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("mongodb_uri", "MONGODB_URI")
	_ = v.BindEnv("server", "CACHECTL_SERVER")
	_ = v.BindEnv("token", "CACHECTL_TOKEN")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")

	root.AddCommand(
		newInspectCmd(v),
		newStatsCmd(v),
		newClearCmd(v),
		newRepairCmd(v),
		newWatchCmd(v),
		newTokenCmd(v),
	)
	return root
}

// openStore connects to the configured cache backend
func openStore(v *viper.Viper) (cachestore.Store, error) {
	if dsn := v.GetString("database_url"); dsn != "" {
		db, err := database.New(dsn)
		if err != nil {
			return nil, err
		}
		if err := db.Initialize(); err != nil {
			db.Close()
			return nil, err
		}
		return cachestore.NewSQLStore(db), nil
	}

	if uri := v.GetString("mongodb_uri"); uri != "" {
		mongoDB, err := database.NewMongoDB(uri)
		if err != nil {
			return nil, err
		}
		return cachestore.NewMongoStore(mongoDB), nil
	}

	return nil, errors.New("no cache store configured: set DATABASE_URL or MONGODB_URI")
}

func withStore(v *viper.Viper, fn func(ctx context.Context, store cachestore.Store) error) error {
	store, err := openStore(v)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, store)
}

func newInspectCmd(v *viper.Viper) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List cache rows, expired ones included",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(v, func(ctx context.Context, store cachestore.Store) error {
				entries, err := store.Inspect(ctx, userID, time.Now())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No cache rows")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "USER\tMODE\tSTATUS\tITEMS\tVALID\tEXPIRES\tERROR")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%s\t%s\n",
						e.UserID, e.Mode, e.Status, len(e.Payload), e.IsValid,
						e.ExpiresAt.Local().Format(time.DateTime), e.ErrorMessage)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "only rows of this user")
	return cmd
}

func newStatsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count unexpired rows per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(v, func(ctx context.Context, store cachestore.Store) error {
				stats, err := store.Stats(ctx, time.Now())
				if err != nil {
					return err
				}
				statuses := make([]string, 0, len(stats.ByStatus))
				for status := range stats.ByStatus {
					statuses = append(statuses, string(status))
				}
				sort.Strings(statuses)

				out := cmd.OutOrStdout()
				for _, status := range statuses {
					fmt.Fprintf(out, "%-10s %d\n", status, stats.ByStatus[models.Status(status)])
				}
				fmt.Fprintf(out, "%-10s %d\n", "expired", stats.Expired)
				return nil
			})
		},
	}
}

func newClearCmd(v *viper.Viper) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cache row",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the cache without --yes")
			}
			return withStore(v, func(ctx context.Context, store cachestore.Store) error {
				deleted, err := store.Clear(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Deleted %d cache rows\n", deleted)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newRepairCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Relabel pending rows that already carry a ranking as completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(v, func(ctx context.Context, store cachestore.Store) error {
				repaired, err := store.RepairLabels(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "🔧 Repaired %d rows\n", repaired)
				return nil
			})
		},
	}
}

func newWatchCmd(v *viper.Viper) *cobra.Command {
	var (
		userID      string
		mode        string
		interval    time.Duration
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Trigger generation for a key and poll until it finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			api := client.NewHTTPClient(v.GetString("server"), v.GetString("token"))
			out := cmd.OutOrStdout()

			lifecycle := client.NewLifecycle(ctx)
			scope := lifecycle.Enter("watch")
			defer lifecycle.Leave()

			var trig *client.TriggerResponse
			err := scope.Do(func(ctx context.Context) error {
				var err error
				trig, err = api.Trigger(ctx, userID, mode)
				return err
			})
			if err != nil {
				return client.UserVisible(err)
			}
			fmt.Fprintf(out, "🚀 %s:%s %s\n", userID, mode, trig.Status)

			type result struct {
				status *client.StatusResponse
				err    error
			}
			done := make(chan result, 1)
			session, err := scope.Poll(api, userID, mode, client.PollConfig{Interval: interval, MaxAttempts: maxAttempts},
				func(status *client.StatusResponse, err error) {
					done <- result{status, err}
				})
			if err != nil {
				return client.UserVisible(err)
			}

			select {
			case <-ctx.Done():
				lifecycle.Leave()
				fmt.Fprintf(out, "⏹️  Stopped after %d status checks\n", session.Attempts())
				return nil
			case res := <-done:
				switch client.OutcomeOf(res.err) {
				case client.OutcomeCompleted:
					if res.status != nil && res.status.ExpiresAt != nil {
						fmt.Fprintf(out, "✅ Completed after %d status checks (expires %s)\n",
							session.Attempts(), res.status.ExpiresAt.Local().Format(time.DateTime))
					} else {
						fmt.Fprintf(out, "✅ Completed after %d status checks\n", session.Attempts())
					}
					return nil
				case client.OutcomeTimedOut:
					fmt.Fprintf(out, "⏳ Still generating after %d status checks, check back later\n", session.Attempts())
					return nil
				case client.OutcomeCancelled:
					fmt.Fprintf(out, "⏹️  Stopped after %d status checks\n", session.Attempts())
					return nil
				default:
					return res.err
				}
			}
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&mode, "mode", "budget", "recommendation mode")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 120, "status checks before giving up")
	return cmd
}

func newTokenCmd(v *viper.Viper) *cobra.Command {
	var (
		userID string
		role   string
		expiry time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			jwtAuth, err := auth.NewJWTAuth(v.GetString("jwt_secret"), expiry)
			if err != nil {
				return err
			}
			token, err := jwtAuth.Issue(userID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "token subject")
	cmd.Flags().StringVar(&role, "role", "user", "token role (admin grants the admin endpoints)")
	cmd.Flags().DurationVar(&expiry, "expiry", time.Hour, "token lifetime")
	return cmd
}
