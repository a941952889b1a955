// Command hwledger は共有ハードウェア予約台帳のAPIサーバーとジョブを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/hwledger/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "hwledger: %v\n", err)
		os.Exit(1)
	}
}
