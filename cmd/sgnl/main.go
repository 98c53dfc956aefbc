// Command sgnl receives group messages and keeps their emoji reactions in
// sync across this device and the user's other devices.
//
// Usage:
//
//	sgnl account --aci <uuid> ...   Store account credentials
//	sgnl receive                    Receive and apply group messages and reactions
//	sgnl groups [--sync]            List known groups
//	sgnl reactions ...              List reactions of a message
//	sgnl inject <hex>               Process an encoded envelope (debug)
//
// Defaults come from SIGNAL_REACTIONS_* environment variables; flags
// override them.
package main

import (
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	client "github.com/gwillem/signal-reactions"
	"github.com/gwillem/signal-reactions/internal/config"
)

type globalOpts struct {
	DB      string `long:"db" description:"Path to database file"`
	Account string `short:"a" long:"account" description:"Phone number of account to use (e.g. +1234567890)"`
	Verbose bool   `short:"v" long:"verbose" description:"Enable debug logging"`

	AccountCmd accountCommand   `command:"account" description:"Show or store account credentials"`
	Receive    receiveCommand   `command:"receive" description:"Receive group messages and apply reactions"`
	Groups     groupsCommand    `command:"groups" description:"List known groups (use --sync to fetch from the server)"`
	Reactions  reactionsCommand `command:"reactions" description:"List reactions to a message"`
	Inject     injectCommand    `command:"inject" description:"Process a hex-encoded envelope as if received (debug)"`
}

var (
	opts globalOpts
	env  config.Config
)

func main() {
	var err error
	if env, err = config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = false

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level, err := env.Level()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using info\n", err)
	}
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
}

func clientOpts(extra ...client.Option) []client.Option {
	copts := []client.Option{
		client.WithAPIURL(env.APIURL),
		client.WithWSURL(env.WSURL),
		client.WithResolveTimeout(env.ResolveTimeout),
		client.WithRetryMaxElapsed(env.RetryMaxElapsed),
		client.WithLogger(newLogger()),
	}

	dbPath := opts.DB
	if dbPath == "" {
		dbPath = env.DBPath
	}
	if dbPath == "" && opts.Account != "" {
		var err error
		dbPath, err = client.DiscoverDBByNumber(opts.Account)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if dbPath != "" {
		copts = append(copts, client.WithDBPath(dbPath))
	}
	return append(copts, extra...)
}

func loadClient(extra ...client.Option) (*client.Client, error) {
	c := client.NewClient(clientOpts(extra...)...)
	if err := c.Load(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
