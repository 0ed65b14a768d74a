package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/ai-radar/internal/frame"
)

var scoreJSON bool

var scoreCmd = &cobra.Command{
	Use:   "score <image>",
	Short: "Score an image file offline with the configured model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		img, err := decodeImageFile(args[0])
		if err != nil {
			return err
		}

		engine := loadEngine(cmd.Context(), cfg, logger)
		defer engine.Close()
		if !engine.Available() {
			logger.Warn("scoring without a model, result will be unavailable", zap.Error(engine.LoadErr()))
		}

		buf := frame.FromImage(img)
		start := time.Now()
		score := engine.Score(cmd.Context(), buf)
		elapsed := time.Since(start)

		out := cmd.OutOrStdout()
		if scoreJSON {
			return json.NewEncoder(out).Encode(map[string]interface{}{
				"image":      args[0],
				"width":      buf.Width,
				"height":     buf.Height,
				"score":      int(score),
				"available":  engine.Available(),
				"latency_ms": float64(elapsed) / float64(time.Millisecond),
			})
		}
		fmt.Fprintf(out, "%s\t%dx%d\tscore=%d\t%s\n", args[0], buf.Width, buf.Height, int(score), elapsed.Round(time.Millisecond))
		return nil
	},
}

func init() {
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(scoreCmd)
}
