package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/fogfactory/splitjoin"
	"github.com/fogfactory/splitjoin/aggregator"
	"github.com/fogfactory/splitjoin/splitter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	linesFlag     = "lines"
	threadsFlag   = "threads"
	pooledFlag    = "pooled"
	warmStartFlag = "warm-start"
	timeoutFlag   = "timeout"
	stageFlag     = "stage"

	linesConf = "run.lines"
	stageConf = "run.stage"
)

var stages = map[string]func([]byte) []byte{
	"identity": bytes.Clone,
	"upper":    bytes.ToUpper,
	"lower":    bytes.ToLower,
}

func newRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Split a file by lines, apply a stage on every part and print the joined result",
		Long: `The run command reads a file (or stdin when omitted), splits it every --lines lines, applies the
selected stage on every part concurrently, and prints the parts joined back in their original order.`,
		Args: cobra.MaximumNArgs(1),
		PreRun: func(cmd *cobra.Command, _ []string) {
			flags := cmd.Flags()
			mustBindPFlag(v, linesConf, flags.Lookup(linesFlag))
			mustBindPFlag(v, stageConf, flags.Lookup(stageFlag))
			mustBindPFlag(v, "max_threads", flags.Lookup(threadsFlag))
			mustBindPFlag(v, "pooled", flags.Lookup(pooledFlag))
			mustBindPFlag(v, "warm_start", flags.Lookup(warmStartFlag))
			mustBindPFlag(v, "timeout", flags.Lookup(timeoutFlag))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSplitJoin(cmd, v, args)
		},
	}

	defaults := splitjoin.DefaultConfig()
	flags := cmd.Flags()
	flags.Int(linesFlag, 1, "number of lines per sub-unit")
	flags.String(stageFlag, "identity", fmt.Sprintf("stage applied on every sub-unit, one of %v", stageNames()))
	flags.Int(threadsFlag, defaults.MaxThreads, "maximum number of concurrent sub-units (0 is unbounded, or 10 when pooled)")
	flags.Bool(pooledFlag, defaults.Pooled, "reuse a fixed set of long-lived workers")
	flags.Bool(warmStartFlag, defaults.WarmStart, "start every pooled worker before processing")
	flags.Duration(timeoutFlag, defaults.Timeout, "deadline covering the processing of all the sub-units (0 disables it)")

	// NOTE: if you add a new flag here, add the binding in PreRun

	return cmd
}

func runSplitJoin(cmd *cobra.Command, v *viper.Viper, args []string) error {
	log, err := newLogger(v)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg, err := splitjoin.LoadConfig(v)
	if err != nil {
		return err
	}
	transform, ok := stages[v.GetString(stageConf)]
	if !ok {
		return fmt.Errorf("unknown stage %q, expected one of %v", v.GetString(stageConf), stageNames())
	}
	payload, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	dispatch, err := splitjoin.NewDispatch(
		splitter.Lines(v.GetInt(linesConf)),
		aggregator.Sorted(aggregator.Append(nil)))
	if err != nil {
		return err
	}
	stage := splitjoin.FromPrototype(splitjoin.StageFunc(func(_ context.Context, sub *splitjoin.SubUnit) error {
		sub.Payload = transform(sub.Payload)
		return nil
	}))

	engine, err := splitjoin.New(dispatch, stage, splitjoin.WithConfig(cfg), splitjoin.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(context.WithoutCancel(cmd.Context())); err != nil {
			log.Warn("engine close", zap.Error(err))
		}
	}()

	msg := splitjoin.NewMessage(payload, nil)
	if err := engine.Execute(cmd.Context(), msg); err != nil {
		return err
	}

	subUnits, _ := msg.Metadata.Int(splitjoin.MetadataSplitTotal)
	log.Info("message processed",
		zap.String("message_id", msg.ID),
		zap.Int("sub_units", subUnits),
		zap.Int("bytes", len(msg.Payload)))

	_, err = cmd.OutOrStdout().Write(msg.Payload)
	return err
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func stageNames() []string {
	names := lo.Keys(stages)
	slices.Sort(names)
	return names
}
