package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	client "github.com/gwillem/signal-reactions"
	"github.com/gwillem/signal-reactions/internal/signalservice"
)

type injectCommand struct {
	File string `short:"f" long:"file" description:"Read the hex-encoded envelope from a file"`

	// Build a reaction instead of decoding an envelope.
	MasterKey hexBytes `long:"master-key" description:"Group master key (hex); builds a reaction from flags"`
	Creator   string   `long:"creator" description:"Group creator ACI"`
	Author    string   `long:"author" description:"Target message author ACI"`
	SentAt    uint64   `long:"ts" description:"Target message sent timestamp (ms)"`
	Sender    string   `long:"sender" description:"Reacting ACI"`
	Emoji     string   `long:"emoji" description:"Emoji to apply or withdraw"`
	Remove    bool     `long:"remove" description:"Withdraw instead of apply"`
	Reflected bool     `long:"reflected" description:"Treat as reflected from one of our own devices"`

	Args struct {
		Envelope string `positional-arg-name:"hex" description:"Hex-encoded envelope"`
	} `positional-args:"yes"`
}

func (cmd *injectCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := loadClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if len(cmd.MasterKey) > 0 {
		return cmd.react(ctx, c)
	}

	raw := cmd.Args.Envelope
	if cmd.File != "" {
		b, err := os.ReadFile(cmd.File)
		if err != nil {
			return err
		}
		raw = string(b)
	}
	if raw == "" {
		return fmt.Errorf("no envelope given (pass hex, --file or --master-key)")
	}
	data, err := decodeHex(raw)
	if err != nil {
		return err
	}

	res, err := c.HandleEnvelope(ctx, data)
	if err != nil {
		return fmt.Errorf("handle envelope: %w", err)
	}
	if res.Kind == signalservice.ResultIgnored {
		fmt.Println("Envelope ignored.")
		return nil
	}
	printResult(c, res)
	return nil
}

func (cmd *injectCommand) react(ctx context.Context, c *client.Client) error {
	sender := cmd.Sender
	if sender == "" {
		sender = c.ACI()
	}
	action := client.Apply
	if cmd.Remove {
		action = client.Withdraw
	}
	origin := client.FromNetwork
	if cmd.Reflected {
		origin = client.FromReflection
	}

	p := client.Payload{
		Target:   client.MessageRef{Author: cmd.Author, SentAt: cmd.SentAt},
		Group:    client.GroupRef{MasterKey: cmd.MasterKey, Creator: cmd.Creator},
		Sender:   sender,
		Action:   action,
		RawEmoji: []byte(cmd.Emoji),
	}

	start := time.Now()
	outcome, err := c.HandleReaction(ctx, origin, p)
	if err != nil {
		return fmt.Errorf("handle reaction: %w", err)
	}
	fmt.Printf("%s (%s, %s)\n", outcome, origin, time.Since(start).Round(time.Millisecond))
	return nil
}
