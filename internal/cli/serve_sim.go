package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/greenwave-io/greenwave/internal/logging"
	"github.com/greenwave-io/greenwave/internal/sim"
	"github.com/greenwave-io/greenwave/internal/simulator"
	"github.com/greenwave-io/greenwave/simulators/remote"
)

var (
	serveListen    string
	serveFixture   string
	serveSimulator string
)

var serveSimCmd = &cobra.Command{
	Use:   "serve-sim",
	Short: "Serve a simulator over the remote gRPC protocol",
	Long: `Expose a local simulator adapter as a greenwave.sim.v1.Simulator gRPC
service so runs elsewhere can drive it with --simulator remote.`,
	Args: cobra.NoArgs,
	RunE: runServeSim,
}

func init() {
	serveSimCmd.Flags().StringVar(&serveListen, "listen", fmt.Sprintf(":%d", remote.DefaultPort), "Address to listen on")
	serveSimCmd.Flags().StringVar(&serveFixture, "fixture", "", "JSON fixture for the null simulator (overrides the client's config path)")
	serveSimCmd.Flags().StringVar(&serveSimulator, "simulator", "null", "Simulator adapter to serve")
}

func runServeSim(cmd *cobra.Command, args []string) error {
	if serveSimulator == "remote" {
		return fmt.Errorf("cannot serve the remote simulator over itself")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := simulator.NewRegistry()
	factory := func(ctx context.Context, opts sim.Options) (sim.Engine, error) {
		if serveFixture != "" {
			opts.ConfigPath = serveFixture
		}
		return registry.Open(ctx, serveSimulator, opts)
	}

	lis, err := net.Listen("tcp", serveListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", serveListen, err)
	}

	srv := remote.NewServer(factory)
	go func() {
		<-ctx.Done()
		logging.Info("stopping simulator server")
		srv.GracefulStop()
	}()

	logging.Info("serving simulator", "simulator", serveSimulator, "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("simulator server failed: %w", err)
	}
	return nil
}
