// Command kcache drives the buffer cache and the mmap manager from the shell.
//
// Usage:
//
//	kcache [global flags] demo [--text <s>]
//	kcache [global flags] stress [--workers N] [--ops N] [--skew S]
//	kcache [global flags] mkimg [--random] <path>
//	kcache [global flags] config
//
// Configuration is layered: defaults, a JSONC file (--config), a .env file
// (--env-file), KCACHE_* environment variables, then flags.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	setupSignalHandlers(cancel)

	code := Run(ctx, os.Stdout, os.Stderr, os.Args[1:], os.Environ())
	cancel()
	os.Exit(code)
}

func setupSignalHandlers(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigChan
		cancel()
	}()
}

func setupLogging(w io.Writer, cfg Config) *slog.Logger {
	level, _ := cfg.logLevel() // validated by LoadConfig
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func commands() []*Command {
	return []*Command{
		demoCommand(),
		stressCommand(),
		mkimgCommand(),
		configCommand(),
	}
}

// Run executes the CLI and returns the exit code.
func Run(ctx context.Context, stdout, stderr io.Writer, args, environ []string) int {
	o := &IO{out: stdout, errOut: stderr}

	var (
		configPath string
		envFile    string
		cli        Config
	)
	global := flag.NewFlagSet("kcache", flag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(&strings.Builder{})
	global.StringVarP(&configPath, "config", "c", "", "JSONC config file")
	global.StringVar(&envFile, "env-file", "", "dotenv file with KCACHE_* keys")
	global.IntVar(&cli.Buffers, "buffers", 0, "number of cache buffers (default 30)")
	global.IntVar(&cli.Shards, "shards", 0, "number of cache shards (default 14)")
	global.IntVar(&cli.BlockSize, "block-size", 0, "device block size in bytes (default 1024)")
	global.Uint32Var(&cli.Blocks, "blocks", 0, "device size in blocks (default 2048)")
	global.IntVar(&cli.Frames, "frames", 0, "physical page frames (default 64)")
	global.StringVar(&cli.MemoryLimit, "memory-limit", "", `memory limit, e.g. "1 MiB"`)
	global.StringVar(&cli.IOLimit, "io-limit", "", `device IO limit per second, e.g. "4 MB"`)
	global.Int64Var(&cli.FlushWorkers, "flush-workers", 0, "parallel write-back workers (default 2)")
	global.BoolVar(&cli.Backpressure, "backpressure", false, "wait for a free buffer instead of failing")
	global.StringVar(&cli.LogLevel, "log-level", "", "debug, info, warn or error")
	global.StringVar(&cli.LogFormat, "log-format", "", "tint or json")
	global.StringVar(&cli.Device.Kind, "device", "", "memory, file, local, minio or s3")
	global.StringVar(&cli.Device.Path, "device-path", "", "disk image (file) or directory (local)")
	global.StringVar(&cli.Device.Endpoint, "endpoint", "", "object store endpoint")
	global.StringVar(&cli.Device.Bucket, "bucket", "", "object store bucket")
	global.StringVar(&cli.Device.Prefix, "prefix", "", `object key prefix (default "blocks")`)
	global.StringVar(&cli.Device.Region, "region", "", "object store region")
	global.StringVar(&cli.Device.Compression, "compression", "", "none, lz4 or zstd")

	cmds := commands()

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(o, global, cmds)
			return 0
		}
		o.ErrPrintln("error:", err)
		return 1
	}

	rest := global.Args()
	if len(rest) == 0 || rest[0] == "help" {
		printUsage(o, global, cmds)
		if len(rest) == 0 {
			return 1
		}
		return 0
	}

	cfg, err := LoadConfig(configPath, envFile, cli, environ)
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}
	env := &Env{Config: cfg, Logger: setupLogging(stderr, cfg)}

	for _, c := range cmds {
		if c.Name() == rest[0] {
			return c.Run(ctx, o, env, rest[1:])
		}
	}
	o.ErrPrintln("error: unknown command:", rest[0])
	printUsage(o, global, cmds)
	return 1
}

func printUsage(o *IO, global *flag.FlagSet, cmds []*Command) {
	o.Println("Usage: kcache [global flags] <command> [flags]")
	o.Println()
	o.Println("Commands:")
	for _, c := range cmds {
		o.Println(c.HelpLine())
	}
	o.Println()
	o.Println("Global flags:")

	var buf strings.Builder
	global.SetOutput(&buf)
	global.PrintDefaults()
	o.Printf("%s", buf.String())
}
