package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	v := viper.New()

	rootCmd := newRootCommand(v)
	rootCmd.AddCommand(newRunCommand(v))
	rootCmd.AddCommand(newProfileCommand())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
