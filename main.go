/*
Runs the testbed game against the render graph. The renderer backend, frame
count and graph options come from a TOML file that is reloaded while running.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spaghettifunk/anima-rdg/engine"
	"github.com/spaghettifunk/anima-rdg/engine/config"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/testbed"
)

var (
	configPath string
	frames     uint64
	backend    string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file, reloaded on change")
	rootCmd.PersistentFlags().Uint64Var(&frames, "frames", 0, "Number of frames to render, 0 runs until interrupted")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Renderer backend (headless or vulkan)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(configCmd)
}

var rootCmd = &cobra.Command{
	Use:   "anima-rdg",
	Short: "Render dependency graph testbed",
	Long: `Renders a deferred frame (depth prepass, gbuffer, async SSAO, light
culling, lighting, debug overlay, present) through the render graph.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		var opts []engine.Option
		if configPath != "" {
			opts = append(opts, engine.WithConfigFile(configPath))
		}
		e, err := engine.New(testbed.NewTestGame().Game, cfg, opts...)
		if err != nil {
			return err
		}
		defer func() {
			if err := e.Shutdown(); err != nil {
				core.LogError(err.Error())
			}
		}()

		if err := e.Initialize(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
		defer stop()

		return e.Run(ctx)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := cfg.Encode()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

// loadConfig reads the configuration file and applies the flags that were
// set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("frames") {
		cfg.Application.Frames = frames
	}
	if flags.Changed("backend") {
		cfg.Renderer.Backend = backend
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
