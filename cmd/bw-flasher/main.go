// command bw-flasher flashes DFU- and LEQI-family motor controller firmware
// over a serial link.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/scooterteam/bw-flasher/flasher"
	"github.com/scooterteam/bw-flasher/link"
)

var (
	port       = flag.String("port", "", "serial device (e.g. /dev/ttyUSB0)")
	simulation = flag.Bool("simulation", false, "drive a simulated device instead of a serial port")
	testOnly   = flag.Bool("test", false, "only probe the connection, don't flash")
	debug      = flag.Bool("debug", false, "log status transitions in addition to progress")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if flag.NArg() != 1 {
		return fmt.Errorf("usage: %s [flags] <firmware-file>", os.Args[0])
	}
	path := flag.Arg(0)
	if !*simulation && *port == "" {
		return fmt.Errorf("specify -port or -simulation")
	}

	cb := link.Callbacks{
		OnLog:      func(msg string) { fmt.Println(msg) },
		OnProgress: func(pct int) { fmt.Printf("\rprogress: %3d%%", pct) },
	}
	if *debug {
		cb.OnStatus = func(status string) { fmt.Printf("\n%s\n", status) }
	}

	runner, err := flasher.Dispatch(path, flasher.Options{
		Port:       *port,
		Simulation: *simulation,
		Callbacks:  cb,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		signal.Reset(os.Interrupt, syscall.SIGTERM)
		cancel()
	}()

	if *testOnly {
		err = runner.TestConnection(ctx)
	} else {
		err = runner.Run(ctx)
	}
	fmt.Println()
	return err
}
