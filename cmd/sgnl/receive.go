package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	client "github.com/gwillem/signal-reactions"
	"github.com/gwillem/signal-reactions/internal/signalservice"
)

type receiveCommand struct {
	N           int    `short:"n" description:"Maximum number of results to receive (0 = unlimited)" default:"0"`
	MetricsAddr string `long:"metrics-addr" description:"Serve Prometheus metrics on this address (e.g. :9100)"`
	Events      bool   `long:"events" description:"Also print reaction change events"`
}

func (cmd *receiveCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	addr := cmd.MetricsAddr
	if addr == "" {
		addr = env.MetricsAddr
	}

	var extra []client.Option
	if addr != "" {
		reg := prometheus.NewRegistry()
		extra = append(extra, client.WithRegisterer(reg))
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "Metrics server: %v\n", err)
			}
		}()
		defer srv.Close()
	}

	c, err := loadClient(extra...)
	if err != nil {
		return err
	}
	defer c.Close()

	if cmd.Events {
		events := c.Subscribe("cli")
		defer c.Unsubscribe("cli")
		go func() {
			for e := range events {
				fmt.Printf("  * %s %s %s on %s@%d (%s)\n",
					c.DisplayName(e.Sender), e.Action, e.Emoji,
					c.DisplayName(e.TargetAuthor), e.TargetSentAt, e.Trigger)
			}
		}()
	}

	fmt.Println("Listening for messages... (Ctrl+C to stop)")

	count := 0
	for res, err := range c.Receive(ctx) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		printResult(c, res)
		count++
		if cmd.N > 0 && count >= cmd.N {
			break
		}
	}

	return nil
}

func printResult(c *client.Client, res client.Result) {
	ts := time.UnixMilli(int64(res.Timestamp)).Format(time.DateTime)
	from := c.DisplayName(res.Sender)
	switch res.Kind {
	case signalservice.ResultReaction:
		p := res.Payload
		verb := "reacted"
		if p.Action == client.Withdraw {
			verb = "removed"
		}
		fmt.Printf("[%s] %s %s %s to %s@%d in %s (%s, %s)\n",
			ts, from, verb, p.RawEmoji, c.DisplayName(p.Target.Author), p.Target.SentAt,
			shortID(res.GroupID), res.Origin, res.Outcome)
	case signalservice.ResultText:
		if res.Outcome != client.Success {
			fmt.Printf("[%s] %s in %s: message dropped (%s)\n", ts, from, shortID(res.GroupID), res.Outcome)
			return
		}
		fmt.Printf("[%s] %s in %s: message #%d\n", ts, from, shortID(res.GroupID), res.MessageID)
	case signalservice.ResultDelete:
		fmt.Printf("[%s] %s in %s: deleted a message (%s)\n", ts, from, shortID(res.GroupID), res.Outcome)
	default:
		fmt.Printf("[%s] %s: ignored envelope\n", ts, from)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
