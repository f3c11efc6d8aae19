package main

import (
	"errors"
	"fmt"
	"os"

	"claims-backend/internal/bootstrap"
	"claims-backend/internal/cli"
	"claims-backend/internal/shared/config"
)

func main() {
	root := cli.NewRootCommand(cli.Env{
		Build: func() (*bootstrap.App, error) {
			return bootstrap.Build(config.Load(), bootstrap.Options{RunLocally: true})
		},
		Out: os.Stdout,
	})
	if err := root.Execute(); err != nil {
		var exit *cli.ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		fmt.Fprintf(os.Stderr, "claimctl: %v\n", err)
		os.Exit(1)
	}
}
