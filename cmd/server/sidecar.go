package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/groupmind/internal/config"
	"github.com/ashureev/groupmind/internal/llm"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newSidecarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sidecar",
		Short: "Serve the OpenAI text backend over gRPC for the grpc text backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			return runSidecar(addr)
		},
	}
	cmd.Flags().String("addr", ":50051", "Listen address for the completion service.")
	return cmd
}

func runSidecar(addr string) error {
	cfg, logger, err := loadConfig(config.LoadSidecar)
	if err != nil {
		return err
	}

	backend := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:      cfg.Text.BaseURL,
		APIKey:       cfg.Text.APIKey,
		Model:        cfg.Text.Model,
		SystemPrompt: cfg.Text.SystemPrompt,
		Timeout:      cfg.Text.Timeout,
	})

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	llm.RegisterCompletionService(srv, backend)
	hs := health.NewServer()
	hs.SetServingStatus(llm.CompletionServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down completion sidecar...")
		hs.Shutdown()
		srv.GracefulStop()
	}()

	slog.Info("Completion sidecar listening", "addr", lis.Addr().String(), "service", llm.CompletionServiceName)
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
