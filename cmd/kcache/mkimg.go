package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
	"github.com/zeebo/blake3"

	"github.com/hupe1980/kcache/device"
)

func mkimgCommand() *Command {
	fs := flag.NewFlagSet("mkimg", flag.ContinueOnError)
	random := fs.Bool("random", false, "fill blocks with pseudo-random bytes instead of zeros")
	seed := fs.Int64("seed", 1, "random seed for --random")

	return &Command{
		Flags: fs,
		Usage: "mkimg [--random] [--seed N] <path>",
		Short: "Create a disk image for the file device",
		Long: `Atomically writes a disk image sized to the configured geometry
(block_size x blocks), then reads it back block by block through the file
device and checks its blake3 digest.`,
		Exec: func(ctx context.Context, o *IO, env *Env, args []string) error {
			if len(args) != 1 {
				return errors.New("mkimg requires exactly one path")
			}
			return runMkimg(ctx, o, env, args[0], *random, *seed)
		},
	}
}

func runMkimg(ctx context.Context, o *IO, env *Env, path string, random bool, seed int64) error {
	bs, n := env.Config.BlockSize, env.Config.Blocks

	img := make([]byte, bs*int(n))
	if random {
		_, _ = rand.New(rand.NewSource(seed)).Read(img)
	}
	want := blake3.Sum256(img)

	if err := atomic.WriteFile(path, bytes.NewReader(img)); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	env.Logger.Debug("image written", "path", path, "bytes", len(img))

	got, err := imageDigest(ctx, path, bs, n)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("image %s: digest mismatch after write", path)
	}

	o.Printf("%s: %d blocks x %s = %s, blake3 %s\n",
		path, n, humanize.IBytes(uint64(bs)), humanize.IBytes(uint64(len(img))),
		hex.EncodeToString(got[:8]))
	return nil
}

// imageDigest hashes every block of the image as the file device reads it.
func imageDigest(ctx context.Context, path string, bs int, n uint32) (sum [32]byte, err error) {
	d, err := device.OpenFile(nil, path, bs, n)
	if err != nil {
		return sum, err
	}
	defer func() {
		if cerr := d.Close(); err == nil {
			err = cerr
		}
	}()

	h := blake3.New()
	p := make([]byte, bs)
	for bn := range n {
		if err := d.ReadBlock(ctx, bn, p); err != nil {
			return sum, err
		}
		_, _ = h.Write(p)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
