package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-hradmin-client/internal/config"
	"github.com/jrsteele09/go-hradmin-client/token/keys"
)

const usage = `Usage: hradmin [-quiet] [-metrics] [-env <file>] <command> [flags]

Commands:
  login   -email <email> -password <password>
  logout
  whoami
  get     <endpoint>
  passwd  -old <password> -new <password>
  token
  keygen  print a new HRADMIN_TOKEN_KEY
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hradmin: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	fs := flag.NewFlagSet("hradmin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	quiet := fs.Bool("quiet", false, "do not print the banner")
	showMetrics := fs.Bool("metrics", false, "print client metrics after the command")
	envFile := fs.String("env", "", "load settings from this .env file instead of ./.env")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cfg := config.New()
	if *envFile != "" {
		var err error
		if cfg, err = config.NewFromFiles(*envFile); err != nil {
			return fmt.Errorf("load %s: %w", *envFile, err)
		}
	}
	if !*quiet {
		displayAppname(stdout, cfg.GetAppName())
	}

	// keygen needs no session, and must work while the configured key is bad.
	if fs.Arg(0) == "keygen" {
		k, err := keys.Generate()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, k.Hex())
		return nil
	}

	a, err := newApp(cfg, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.dispatch(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		return err
	}
	if *showMetrics {
		return a.writeMetrics()
	}
	return nil
}

func displayAppname(w io.Writer, appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	fmt.Fprintln(w, myFigure.String())
}
