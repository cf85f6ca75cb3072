package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agenthands/wukong/internal/config"
	"github.com/agenthands/wukong/internal/logging"
	"github.com/agenthands/wukong/pkg/wukong"
)

type app struct {
	cfgFile   string
	host      string
	port      int
	timeout   time.Duration
	transport string
	logLevel  string

	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCommand builds the wukong command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "wukong",
		Short: "Client for a distributed Wukong SPARQL cluster",
		Long: `wukong talks to a Wukong proxy: it prints cluster status, runs SPARQL
queries, serves an HTTP gateway in front of the cluster and can run a mock
proxy for local testing.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file path (default $CONFIG_PATH)")
	flags.StringVar(&a.host, "host", "", "proxy host")
	flags.IntVarP(&a.port, "port", "p", 0, "proxy RPC port")
	flags.DurationVar(&a.timeout, "timeout", 0, "per-call timeout")
	flags.StringVar(&a.transport, "transport", "", "wire protocol: rpc or bolt")
	flags.StringVar(&a.logLevel, "log-level", "", "log level")

	root.AddCommand(a.infoCommand(), a.queryCommand(), a.serveCommand(), a.mockCommand())
	return root
}

func (a *app) load(cmd *cobra.Command, args []string) error {
	path := a.cfgFile
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOptional(os.Getenv("CONFIG_PATH"))
	}
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Cluster.Host = a.host
	}
	if flags.Changed("port") {
		cfg.Cluster.Port = a.port
	}
	if flags.Changed("timeout") {
		cfg.Cluster.Timeout = config.Duration{Duration: a.timeout}
	}
	if flags.Changed("transport") {
		cfg.Cluster.Transport = a.transport
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.Setup(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) clientOptions() []wukong.Option {
	opts := []wukong.Option{
		wukong.WithTimeout(a.cfg.Cluster.Timeout.Duration),
		wukong.WithTransport(a.cfg.Cluster.Transport),
		wukong.WithLogger(a.logger),
	}
	if a.cfg.Cluster.User != "" {
		opts = append(opts, wukong.WithBasicAuth(a.cfg.Cluster.User, a.cfg.Cluster.Password))
	}
	return opts
}
