package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/kcache"
	"github.com/hupe1980/kcache/syserr"
)

type stressParams struct {
	workers    int
	ops        int
	skew       float64
	writeRatio float64
	seed       int64
}

func stressCommand() *Command {
	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	p := stressParams{}
	fs.IntVarP(&p.workers, "workers", "w", 8, "concurrent workers")
	fs.IntVarP(&p.ops, "ops", "n", 10000, "block accesses per worker")
	fs.Float64Var(&p.skew, "skew", 1.2, "zipf exponent of the block access pattern (> 1)")
	fs.Float64Var(&p.writeRatio, "write-ratio", 0.1, "fraction of accesses that modify the block")
	fs.Int64Var(&p.seed, "seed", 1, "random seed")

	return &Command{
		Flags: fs,
		Usage: "stress [--workers N] [--ops N] [--skew S]",
		Short: "Hammer the buffer cache from concurrent workers",
		Long: `Runs concurrent workers that read and modify blocks of the root device
through the buffer cache with a skewed access pattern, then writes every
dirty block back and prints cache statistics.`,
		Exec: func(ctx context.Context, o *IO, env *Env, _ []string) error {
			return runStress(ctx, o, env, p)
		},
	}
}

func runStress(ctx context.Context, o *IO, env *Env, p stressParams) (err error) {
	switch {
	case p.workers <= 0:
		return fmt.Errorf("--workers must be positive, got %d", p.workers)
	case p.ops <= 0:
		return fmt.Errorf("--ops must be positive, got %d", p.ops)
	case p.skew <= 1:
		return fmt.Errorf("--skew must be greater than 1, got %g", p.skew)
	case p.writeRatio < 0 || p.writeRatio > 1:
		return fmt.Errorf("--write-ratio must be in [0,1], got %g", p.writeRatio)
	}

	metrics := &kcache.BasicMetricsCollector{}
	k, _, err := env.newKernel(ctx, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := k.Close(ctx); err == nil {
			err = cerr
		}
	}()

	nblocks := env.Config.Blocks
	var retries atomic.Int64

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := range p.workers {
		g.Go(func() error {
			r := rand.New(rand.NewSource(p.seed + int64(w)))
			z := rand.NewZipf(r, p.skew, 1, uint64(nblocks-1))
			for i := 0; i < p.ops; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				bn := uint32(z.Uint64())
				b, err := k.Bread(gctx, bn)
				if errors.Is(err, syserr.ErrExhausted) {
					retries.Add(1)
					i--
					time.Sleep(time.Millisecond)
					continue
				}
				if err != nil {
					return err
				}
				if r.Float64() < p.writeRatio {
					// Write through: dirty buffers cannot be evicted.
					d := b.Data()
					binary.LittleEndian.PutUint32(d, binary.LittleEndian.Uint32(d)+1)
					b.MarkDirty()
					if err := k.Cache().Write(gctx, b); err != nil {
						k.Release(b)
						return err
					}
				}
				k.Release(b)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := k.Sync(ctx); err != nil {
		return err
	}

	total := p.workers * p.ops
	o.Printf("%s accesses by %d workers in %v (%s ops/s), %d exhausted retries\n",
		humanize.Comma(int64(total)), p.workers, elapsed.Round(time.Millisecond),
		humanize.Comma(int64(float64(total)/elapsed.Seconds())), retries.Load())
	printStats(o, k.Stats(), metrics.GetStats())
	return nil
}
