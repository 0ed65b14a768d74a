package cmd

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/ai-radar/internal/modelrpc"
	"github.com/example/ai-radar/internal/scoring"
)

var (
	synthOut  string
	synthSeed int64
	synthGrid int

	modelServeAddr string
	modelServePath string
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Build or serve scoring model artifacts",
}

var modelSynthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Write a deterministic demo model artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Create(synthOut)
		if err != nil {
			return err
		}
		m := scoring.SynthesizeLinear(synthSeed, synthGrid)
		if err := scoring.WriteArtifact(f, m); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (grid %d, seed %d)\n", synthOut, synthGrid, synthSeed)
		return nil
	},
}

var modelServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a model artifact over gRPC",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		path := modelServePath
		if path == "" {
			path = cfg.Model.Path
		}
		model, err := scoring.LoadArtifact(path)
		if err != nil {
			return err
		}

		lis, err := net.Listen("tcp", modelServeAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", modelServeAddr, err)
		}
		server := modelrpc.NewServer(model, logger)

		errCh := make(chan error, 1)
		go func() { errCh <- server.Serve(lis) }()

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
			logger.Info("stopping model server", zap.String("addr", modelServeAddr))
			server.Stop()
			return <-errCh
		}
	},
}

func init() {
	modelSynthCmd.Flags().StringVarP(&synthOut, "out", "o", "airadar-model.msgpack", "artifact output path")
	modelSynthCmd.Flags().Int64Var(&synthSeed, "seed", 1, "random seed")
	modelSynthCmd.Flags().IntVar(&synthGrid, "grid", 8, "pooling grid size (must divide 224)")

	modelServeCmd.Flags().StringVar(&modelServeAddr, "addr", ":50051", "gRPC listen address")
	modelServeCmd.Flags().StringVar(&modelServePath, "model", "", "artifact path (default from config)")

	modelCmd.AddCommand(modelSynthCmd, modelServeCmd)
	rootCmd.AddCommand(modelCmd)
}
