package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Iron-Ham/planstore/internal/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		if !errors.Is(err, cmd.ErrResultFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
