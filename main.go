package main

import (
	"context"
	"fmt"
	"os"

	root "github.com/saiblo/judge-worker/cmd/root"
)

func main() {
	cmd := root.NewRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
