package main

import (
	"context"
	"fmt"
	"time"
)

type reactionsCommand struct {
	Group  string `long:"group" required:"true" description:"Group ID (hex)"`
	Author string `long:"author" required:"true" description:"ACI of the message author"`
	SentAt uint64 `long:"ts" required:"true" description:"Sent timestamp of the message in milliseconds"`
}

func (cmd *reactionsCommand) Execute(args []string) error {
	c, err := loadClient()
	if err != nil {
		return err
	}
	defer c.Close()

	rs, err := c.Reactions(context.Background(), cmd.Group, cmd.Author, cmd.SentAt)
	if err != nil {
		return fmt.Errorf("list reactions: %w", err)
	}
	if len(rs) == 0 {
		fmt.Println("No reactions.")
		return nil
	}
	for _, r := range rs {
		fmt.Printf("  %s  %s  (%s)\n", r.Emoji, c.DisplayName(r.Sender), r.CreatedAt.Format(time.DateTime))
	}
	return nil
}
