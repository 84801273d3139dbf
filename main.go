// nfcrelay relays NFC traffic between a card and an emulator over the
// network.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"nfcrelay/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "nfcrelay: %v\n", err)
		os.Exit(1)
	}
}
