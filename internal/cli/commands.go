package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/agenthands/wukong/internal/rpc"
	"github.com/agenthands/wukong/internal/server"
	"github.com/agenthands/wukong/internal/telemetry"
	"github.com/agenthands/wukong/pkg/wukong"
)

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print cluster information reported by the proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts := append(a.clientOptions(), wukong.WithInfoWriter(cmd.OutOrStdout()))
			return wukong.With(ctx, a.cfg.Cluster.Host, a.cfg.Cluster.Port, func(c *wukong.Client) error {
				return c.RetrieveClusterInfo(ctx)
			}, opts...)
		},
	}
}

func (a *app) queryCommand() *cobra.Command {
	var file, planFile string
	cmd := &cobra.Command{
		Use:   "query [sparql]",
		Short: "Execute a SPARQL query (read from stdin when no query or file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}
			plan := ""
			if planFile != "" {
				data, err := os.ReadFile(planFile)
				if err != nil {
					return fmt.Errorf("read plan file: %w", err)
				}
				plan = string(data)
			}

			ctx := cmd.Context()
			return wukong.With(ctx, a.cfg.Cluster.Host, a.cfg.Cluster.Port, func(c *wukong.Client) error {
				result, err := c.ExecuteQueryWithPlan(ctx, query, plan)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), result)
				return nil
			}, a.clientOptions()...)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the query from a file")
	cmd.Flags().StringVar(&planFile, "plan-file", "", "read an explicit query plan from a file")
	return cmd
}

func readQuery(stdin io.Reader, args []string, file string) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", errors.New("give the query as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read query file: %w", err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read query from stdin: %w", err)
		}
		return string(data), nil
	}
}

func (a *app) serveCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an HTTP gateway in front of the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.Gateway.Listen
			}
			ctx := cmd.Context()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics, err := telemetry.NewPrometheusCollector(reg)
			if err != nil {
				return err
			}

			return wukong.With(ctx, a.cfg.Cluster.Host, a.cfg.Cluster.Port, func(c *wukong.Client) error {
				srv := server.NewServer(c, server.Options{
					Breaker:  a.cfg.Breaker,
					Metrics:  metrics,
					Gatherer: reg,
					Logger:   a.logger,
				})
				return serveUntilClosed(ctx, c.Done(), func(ctx context.Context) error {
					return srv.Run(ctx, listen)
				})
			}, a.clientOptions()...)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "gateway listen address (default from config)")
	return cmd
}

var errSessionLost = errors.New("cluster session closed, gateway stopped")

// serveUntilClosed runs the gateway until ctx ends or the cluster session is
// lost. A lost session is reported as errSessionLost.
func serveUntilClosed(ctx context.Context, sessionDone <-chan struct{}, run func(context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lost := make(chan struct{})
	go func() {
		select {
		case <-sessionDone:
			close(lost)
			cancel()
		case <-runCtx.Done():
		}
	}()

	err := run(runCtx)
	select {
	case <-lost:
		if err == nil {
			return errSessionLost
		}
		return fmt.Errorf("%w: %w", errSessionLost, err)
	default:
		return err
	}
}

func (a *app) mockCommand() *cobra.Command {
	var (
		listen string
		reject bool
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a mock proxy that answers with canned replies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.Mock.Listen
			}
			mc := a.cfg.Mock
			handler := &rpc.StaticHandler{
				Info:    rpc.DefaultClusterInfo(mc.Nodes, 0, mc.Proxies),
				Results: mc.Results,
				Default: mc.Default,
			}
			opts := []rpc.ServerOption{rpc.WithServerLogger(a.logger)}
			if reject {
				opts = append(opts, rpc.WithAdmission(func(string) error {
					return errors.New("mock proxy rejects all sessions")
				}))
			}
			srv := rpc.NewServer(handler, opts...)

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ln) }()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				return srv.Close()
			}
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "mock proxy listen address (default from config)")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject every session")
	return cmd
}
