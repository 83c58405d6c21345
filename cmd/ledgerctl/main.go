package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/hospital-backoffice/backoffice/cmd/ledgerctl/cli"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
