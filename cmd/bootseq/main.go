package main

import (
	"context"
	"fmt"
	"os"

	"bootseq/internal/bootstrap"
)

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if cerr := app.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootseq: %v\n", err)
	}
	os.Exit(bootstrap.ExitCode(err))
}
