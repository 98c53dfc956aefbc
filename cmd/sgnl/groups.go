package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

type groupsCommand struct {
	Sync bool `long:"sync" description:"Fetch groups from the server before listing"`
}

func (cmd *groupsCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := loadClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if cmd.Sync {
		n, err := c.SyncGroups(ctx)
		if err != nil {
			return fmt.Errorf("sync groups: %w", err)
		}
		fmt.Printf("Synced %d groups.\n\n", n)
	}

	groups, err := c.Groups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	if len(groups) == 0 {
		fmt.Println("No groups found.")
		fmt.Println("Groups are learned from the server via --sync.")
		return nil
	}

	fmt.Printf("Found %d group(s):\n\n", len(groups))
	for _, g := range groups {
		name := g.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %s\n", name)
		fmt.Printf("    ID:       %s\n", g.GroupID)
		fmt.Printf("    Revision: %d\n", g.Revision)
		if g.Left {
			fmt.Printf("    Status:   left\n")
		}
		for _, aci := range g.MemberACIs {
			fmt.Printf("    Member:   %s\n", c.DisplayName(aci))
		}
		fmt.Println()
	}
	return nil
}
