package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/antenna/htsp"
)

var (
	recordEventID   uint32
	recordChannelID uint32
	recordStart     string
	recordStop      string
	recordTitle     string
	recordRetention int64
)

func init() {
	flags := RecordCmd.Flags()

	flags.Uint32Var(&recordEventID, "event", 0, "the EPG event id to record")
	flags.Uint32Var(&recordChannelID, "channel", 0, "the channel id for a timer recording")
	flags.StringVar(&recordStart, "start", "", "timer start time, RFC3339")
	flags.StringVar(&recordStop, "stop", "", "timer stop time, RFC3339")
	flags.StringVar(&recordTitle, "title", "", "the recording title")
	flags.Int64Var(&recordRetention, "retention", 0, "how many days to keep the recording")

	RecordCmd.AddCommand(CancelCmd)
}

var RecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Schedule a recording",
	Long: `Schedule a recording, either of an EPG event or as a bare timer on
a channel.

Usage
	antenna record --event 112358
	antenna record --channel 5 --start 2026-08-25T21:00:00Z --stop 2026-08-25T22:00:00Z --title "News"

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		req := htsp.DvrRequest{
			EventID:   recordEventID,
			ChannelID: recordChannelID,
			Title:     recordTitle,
			Retention: recordRetention,
		}

		if recordEventID == 0 {
			var err error
			if req.Start, err = time.Parse(time.RFC3339, recordStart); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if req.Stop, err = time.Parse(time.RFC3339, recordStop); err != nil {
				return fmt.Errorf("--stop: %w", err)
			}
		}

		return withSession(ctx, func(session *htsp.Session, log *zap.Logger) error {
			entry, err := session.AddDvrEntry(ctx, req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %q as entry %d\n", entry.Title, entry.ID)
			return nil
		})
	},
}

var CancelCmd = &cobra.Command{
	Use:   "cancel <entry id>",
	Short: "Cancel a scheduled or running recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("entry id: %w", err)
		}

		return withSession(ctx, func(session *htsp.Session, log *zap.Logger) error {
			if err := session.CancelDvrEntry(ctx, uint32(id)); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled entry %d\n", id)
			return nil
		})
	},
}

// withSession runs fn against a connected, authenticated session and
// tears it down afterwards.
func withSession(ctx context.Context, fn func(*htsp.Session, *zap.Logger) error) error {
	log, err := makeCommandLogger()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	conf, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	session := makeSession(conf, log)
	defer session.Close()

	if _, err := connect(ctx, session, conf); err != nil {
		return err
	}

	return fn(session, log)
}
