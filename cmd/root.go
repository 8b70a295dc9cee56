package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/antenna/cmd/gen"
	"github.com/luma/antenna/htsp"
	"github.com/luma/antenna/internal/env"
)

var (
	// Path to an optional TOML config file
	configPath string

	// The media server host to connect to
	host string

	// The port the server speaks HTSP on
	port int

	user     string
	password string

	// Mirror the full programme guide during sync
	epg bool

	verbose bool
)

var RootCmd = &cobra.Command{
	Use:   "antenna",
	Short: "A client for Tvheadend style media servers",
	Long: `Antenna talks HTSP to a Tvheadend style media server. It keeps a
local mirror of the server's channel lineup, programme guide and
recording schedule, and can either report on it or watch it live.`,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVar(&configPath, "config", "antenna.toml", "path to a TOML config file")
	flags.StringVarP(&host, "host", "a", "", "the media server host")
	flags.IntVarP(&port, "port", "p", 0, "the media server HTSP port")
	flags.StringVarP(&user, "user", "u", "", "the user to authenticate as")
	flags.StringVar(&password, "password", "", "the password to authenticate with")
	flags.BoolVar(&epg, "epg", false, "mirror the programme guide as well")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	RootCmd.AddCommand(InfoCmd)
	RootCmd.AddCommand(MonitorCmd)
	RootCmd.AddCommand(RecordCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// loadConfig merges the config file and environment with any flags the
// user set on the command line. Flags win.
func loadConfig(ctx context.Context) (*env.Config, error) {
	conf, err := env.LoadConfig(ctx, configPath)
	if err != nil {
		return nil, err
	}

	if host != "" {
		conf.Host = host
	}
	if port != 0 {
		conf.Port = port
	}
	if user != "" {
		conf.User = user
	}
	if password != "" {
		conf.Password = password
	}
	if epg {
		conf.EPG = true
	}

	return conf, nil
}

func makeCommandLogger() (*zap.Logger, error) {
	return env.MakeLogger(verbose)
}

func makeSession(conf *env.Config, log *zap.Logger) *htsp.Session {
	return htsp.New(htsp.Options{
		Host:       conf.Host,
		Port:       conf.Port,
		ClientName: conf.ClientName,
		User:       conf.User,
		Password:   conf.Password,
		EPG:        conf.EPG,
		Trace:      conf.Trace,
		Log:        log.Named("htsp"),
	})
}

// connect dials, handshakes and, when credentials are configured,
// authenticates.
func connect(ctx context.Context, session *htsp.Session, conf *env.Config) (*htsp.Hello, error) {
	hello, err := session.Connect(ctx)
	if err != nil {
		return nil, err
	}

	if conf.User != "" {
		if err := session.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	return hello, nil
}
