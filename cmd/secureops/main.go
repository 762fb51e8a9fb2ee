package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/secureops/internal/app"
)

func main() {
	// syncコマンドは標準出力にCSVを書き出すため、ログは標準エラー出力に出す
	if err := app.Run(os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
