package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"daq/cmd"
	"daq/internal/build"
	applog "daq/internal/log"
)

// main is the entry point. The program flow is divided into three phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load the configuration
//   - Open the stream backend (PortAudio or simulation)
//
// 2. Concurrent Phase (Hot Path):
//   - Start the input (or duplex) stream and fan its blocks out
//   - Average power spectra and publish them to the transports
//   - Record and play the signal generator if enabled
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Stop streams, finalize recordings and close transports
func main() {
	build.InitializeDev("daq")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		applog.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}
