package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/luma/antenna/htsp"
)

var jsonOut bool

func init() {
	InfoCmd.Flags().BoolVar(&jsonOut, "json", false, "emit the report as JSON")
}

var InfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Report the server's lineup, schedule and disk state",
	Long: `Connect to the media server, pull down the full entity sync and
print a report of its channel lineup, recording schedule and disk
state.

Usage
	antenna info --host tv.local --user api

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

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

		hello, err := connect(ctx, session, conf)
		if err != nil {
			return err
		}

		report, err := buildReport(ctx, session, hello)
		if err != nil {
			return err
		}

		if jsonOut {
			out, err := report.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		}

		report.Render(cmd.OutOrStdout())
		return nil
	},
}

func buildReport(ctx context.Context, session *htsp.Session, hello *htsp.Hello) (*Report, error) {
	report := &Report{
		ServerName:      hello.ServerName,
		ServerVersion:   hello.ServerVersion,
		ProtocolVersion: hello.Version,
	}

	// Disk space and system time arrived in v3. Older servers still get
	// the rest of the report.
	if disk, err := session.DiskSpace(ctx); err == nil {
		report.DiskSpace = &disk
	} else if !versionGated(err) {
		return nil, err
	}

	if when, err := session.SystemTime(ctx); err == nil {
		report.Time = &when
	} else if !versionGated(err) {
		return nil, err
	}

	var err error
	if report.Tags, err = session.Tags(ctx); err != nil {
		return nil, err
	}
	if report.Channels, err = session.Channels(ctx); err != nil {
		return nil, err
	}
	if report.Recorded, err = session.Recorded(ctx); err != nil {
		return nil, err
	}
	if report.Scheduled, err = session.Scheduled(ctx); err != nil {
		return nil, err
	}
	if report.Failed, err = session.Failed(ctx); err != nil {
		return nil, err
	}
	if report.Autorecs, err = session.AutorecRules(ctx); err != nil {
		return nil, err
	}

	return report, nil
}

func versionGated(err error) bool {
	var gate *htsp.ProtocolVersionError
	return errors.As(err, &gate)
}
