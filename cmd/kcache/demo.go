package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"
	"github.com/zeebo/blake3"

	"github.com/hupe1980/kcache"
	"github.com/hupe1980/kcache/device"
	"github.com/hupe1980/kcache/inode"
)

func demoCommand() *Command {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	text := fs.String("text", "hello from the buffer cache\n", "file content to map")
	name := fs.String("name", "motd", "file name")

	return &Command{
		Flags: fs,
		Usage: "demo [--text <s>] [--name <f>]",
		Short: "Map a file shared, modify it through memory and read it back",
		Long: `Writes a file, maps it shared and writable into a new process,
upper-cases its content through stores to the mapping, unmaps it and reads
the file back through the buffer cache.`,
		Exec: func(ctx context.Context, o *IO, env *Env, _ []string) error {
			return runDemo(ctx, o, env, *name, []byte(*text))
		},
	}
}

func runDemo(ctx context.Context, o *IO, env *Env, name string, text []byte) (err error) {
	if len(text) == 0 {
		return errors.New("--text must not be empty")
	}

	metrics := &kcache.BasicMetricsCollector{}
	k, dev, err := env.newKernel(ctx, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := k.Close(ctx); err == nil {
			err = cerr
		}
	}()

	f, err := k.Open(name, inode.ReadWrite|inode.Create|inode.Truncate)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(ctx, text, 0); err != nil {
		_ = f.Close()
		return err
	}

	pid, err := k.Spawn()
	if err != nil {
		_ = f.Close()
		return err
	}
	addr, err := k.Map(ctx, pid, uint64(len(text)), kcache.ProtRead|kcache.ProtWrite, kcache.MapShared, f, 0)
	// The mapping holds its own reference.
	_ = f.Close()
	if err != nil {
		return err
	}

	got := make([]byte, len(text))
	if err := k.Load(ctx, pid, addr, got); err != nil {
		return err
	}
	o.Printf("pid %d mapped %q at %v: %q\n", pid, name, addr, got)

	if err := k.Store(ctx, pid, addr, bytes.ToUpper(got)); err != nil {
		return err
	}

	space, err := k.Space(pid)
	if err != nil {
		return err
	}
	o.Println("maps:")
	if err := space.WriteMaps(o.out); err != nil {
		return err
	}

	if err := k.Unmap(ctx, pid, addr, uint64(len(text))); err != nil {
		return err
	}
	if err := k.Exit(ctx, pid); err != nil {
		return err
	}

	rf, err := k.Open(name, inode.ReadOnly)
	if err != nil {
		return err
	}
	defer rf.Close()

	// Write-back covers whole pages, so the file now spans at least one page.
	back := make([]byte, len(text))
	if _, err := rf.ReadAt(ctx, back, 0); err != nil {
		return err
	}
	h := blake3.New()
	_, _ = h.Write(back)
	o.Printf("read back %q (file %s, blake3 %s)\n", back, humanize.IBytes(uint64(rf.Size())), hex.EncodeToString(h.Sum(nil))[:16])

	printStats(o, k.Stats(), metrics.GetStats())
	if b, ok := dev.(*device.Blob); ok {
		if err := k.Sync(ctx); err != nil {
			return err
		}
		n, err := b.Stored(ctx)
		if err != nil {
			return err
		}
		o.Printf("blob:    %d of %d blocks stored\n", n, b.NumBlocks())
	}
	return nil
}

func printStats(o *IO, st kcache.Stats, m kcache.BasicMetricsStats) {
	c := st.Cache
	o.Printf("cache:   %d buffers x %s in %d shards, %d hits, %d misses (%.1f%%), %d evictions\n",
		c.Buffers, humanize.IBytes(uint64(c.BlockSize)), c.Shards,
		c.Hits, c.Misses, 100*c.HitRatio(), c.Evictions)
	o.Printf("device:  %d reads, %d writes, %s transferred, %d errors\n",
		c.Reads, c.Writes, humanize.IBytes(uint64(c.Reads+c.Writes)*uint64(c.BlockSize)), m.IOErrors)
	o.Printf("fs:      %d free blocks, %d commits\n", st.FreeBlocks, st.Commits)
	o.Printf("vm:      %d maps, %d unmaps, %d faults, %s written back, %d/%d frames free\n",
		m.MapCount, m.UnmapCount, m.FaultCount, humanize.IBytes(uint64(m.WriteBackBytes)),
		st.FramesFree, st.FramesTotal)
	o.Printf("memory:  %s in use\n", humanize.IBytes(uint64(st.MemoryUsage)))
}
