// Meshrelay — the signaling relay for the mesh.
//
// It serves a single WebSocket endpoint over which clients join topics and
// exchange negotiation messages. Application traffic never touches it.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/1ureka/1ureka.net.mesh/internal/config"
	"github.com/1ureka/1ureka.net.mesh/internal/relay"
	"github.com/1ureka/1ureka.net.mesh/internal/util"
)

var version = "dev"

var (
	configFile string
	debugMode  bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "meshrelay",
	Short:   "Signaling relay for topic-based WebRTC meshes",
	Long:    `Meshrelay is the rendezvous point for mesh clients: it assigns peer identifiers, tracks topic membership, and forwards negotiation messages between members. Once peers connect directly it carries no further traffic.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")
	rootCmd.Flags().String("listen", "", "HTTP listen address (overrides config)")
	rootCmd.Flags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	viper.BindPFlag("listen", rootCmd.Flags().Lookup("listen"))
}

func serve(ctx context.Context) error {
	if err := config.Load(configFile); err != nil {
		return err
	}
	util.SetLevel(config.LogLevel())
	if debugMode {
		util.EnableDebug()
	}

	srv := &http.Server{
		Addr:    config.ListenAddr(),
		Handler: relay.NewServer().Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		util.LogInfo("relay listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown: give in-flight upgrades a moment to finish.
	util.LogInfo("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}
