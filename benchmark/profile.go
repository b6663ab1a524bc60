// Package benchmark profiles nested split-join engines against a sequential run of the same work.
package benchmark

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/fogfactory/splitjoin"
	"github.com/samber/lo"
)

// LeafDuration is the time spent by every leaf sub-unit.
const LeafDuration = time.Millisecond

// Profile generates a CPU profile file in dir, named splitjoin_{date}_{mode}_in{childRatio}_{threads}.prof, and
// returns its path.
//
// - childRatio Number of sub-units generated by each split.
// - pooled Selects pooled engines.
// - threads Max threads of each engine. Its length is also the nesting depth.
//
// use pprof to read the file (go install github.com/google/pprof@latest).
func Profile(w io.Writer, dir string, childRatio int, pooled bool, threads ...int) (string, error) {
	if childRatio <= 0 || len(threads) == 0 {
		return "", fmt.Errorf("%w: profile needs a positive child ratio and at least one level", splitjoin.ErrInvalidConfig)
	}

	mode := lo.Ternary(pooled, "pooled", "unpooled")
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("splitjoin_%s_%s_in%d_%s.prof",
		strings.ReplaceAll(time.Now().Truncate(time.Second).Format(time.DateTime), " ", "-"),
		mode,
		childRatio,
		strings.Join(lo.Map(threads, func(item, _ int) string { return fmt.Sprint(item) }), "-"))))
	if err != nil {
		return "", err
	}
	defer f.Close()

	root, closeAll, err := nest(childRatio, pooled, threads)
	if err != nil {
		return "", err
	}
	defer closeAll()

	leaves := 1
	for range threads {
		leaves *= childRatio
	}
	fmt.Fprintln(w, "leaf calls:", leaves, ", minimal seq duration:", time.Duration(leaves)*LeafDuration)

	// Start profiling
	err = func() error {
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()

		start := time.Now()
		if err := root.Execute(context.Background(), splitjoin.NewMessage(nil, nil)); err != nil {
			return err
		}
		fmt.Fprintf(w, "(par %s: %s)\n", mode, time.Since(start))
		return nil
	}()
	if err != nil {
		return "", err
	}

	start := time.Now()
	for range leaves {
		time.Sleep(LeafDuration)
	}
	fmt.Fprintf(w, "(seq: %s)\n", time.Since(start))
	fmt.Fprintf(w, "profile:%s\n", f.Name())

	// Call pprof on a file
	// pprof -http=:8080 $file
	return f.Name(), nil
}

// nest builds one engine per level. Every level but the last runs the next engine on each of its sub-units.
func nest(childRatio int, pooled bool, threads []int) (*splitjoin.Engine, func(), error) {
	dispatch, err := splitjoin.NewDispatch(
		splitjoin.SplitterFunc(func(_ context.Context, msg *splitjoin.Message) (splitjoin.Sequence, error) {
			return splitjoin.SliceSequence(lo.Times(childRatio, func(int) *splitjoin.Message {
				return msg.Derive(nil)
			})...), nil
		}),
		splitjoin.AggregatorFunc(func(context.Context, *splitjoin.Message, []*splitjoin.SubUnit) error {
			return nil // discard all
		}))
	if err != nil {
		return nil, nil, err
	}

	engines := make([]*splitjoin.Engine, len(threads))
	closeAll := func() {
		for _, e := range engines {
			if e != nil {
				_ = e.Close(context.Background())
			}
		}
	}

	var stage splitjoin.StageFunc = func(ctx context.Context, _ *splitjoin.SubUnit) error {
		time.Sleep(LeafDuration)
		return nil
	}
	for i := len(threads) - 1; i >= 0; i-- {
		e, err := splitjoin.New(dispatch, splitjoin.FromPrototype(stage),
			splitjoin.WithMaxThreads(threads[i]),
			splitjoin.WithPooled(pooled))
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		engines[i] = e
		stage = func(ctx context.Context, sub *splitjoin.SubUnit) error {
			return e.Execute(ctx, sub.Message)
		}
	}
	return engines[0], closeAll, nil
}
