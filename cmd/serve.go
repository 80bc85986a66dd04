package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/abhisek/sensei/internal/api"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tutoring API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)

		rt, err := buildRuntime(cmd, buildOptions{requireLLM: true})
		if err != nil {
			return err
		}
		defer rt.close(context.Background())

		addr := rt.cfg.Server.Addr
		if a, _ := cmd.Flags().GetString("addr"); a != "" {
			addr = a
		}

		gin.SetMode(rt.cfg.Server.Mode)
		srv := api.NewServer(api.RouterConfig{
			Service:        rt.orch,
			Goals:          rt.store.GoalRepo(),
			Logger:         rt.log,
			ServiceName:    rt.cfg.Tracing.ServiceName,
			TracerProvider: rt.tp,
		})
		return srv.Run(ctx, addr, rt.cfg.Server.ShutdownTimeout)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}
