package main

import (
	"context"

	flag "github.com/spf13/pflag"
)

func configCommand() *Command {
	return &Command{
		Flags: flag.NewFlagSet("config", flag.ContinueOnError),
		Usage: "config",
		Short: "Print the resolved configuration",
		Exec: func(_ context.Context, o *IO, env *Env, _ []string) error {
			s, err := FormatConfig(env.Config)
			if err != nil {
				return err
			}
			o.Println(s)
			return nil
		},
	}
}
