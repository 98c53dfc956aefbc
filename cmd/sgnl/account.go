package main

import (
	"fmt"

	client "github.com/gwillem/signal-reactions"
)

type accountCommand struct {
	Number   string `long:"number" description:"Phone number (E.164)"`
	ACI      string `long:"aci" description:"Account ACI (UUID); storing credentials requires it"`
	DeviceID int    `long:"device-id" description:"This device's ID" default:"1"`
	Password string `long:"password" description:"Device password for the chat service"`
}

func (cmd *accountCommand) Execute(args []string) error {
	if cmd.ACI != "" {
		c := client.NewClient(clientOpts()...)
		defer c.Close()
		err := c.SetAccount(client.Account{
			Number:   cmd.Number,
			ACI:      cmd.ACI,
			DeviceID: cmd.DeviceID,
			Password: cmd.Password,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Stored account %s (device %d).\n", c.ACI(), c.DeviceID())
		return nil
	}

	c, err := loadClient()
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Println("Account info:")
	fmt.Printf("  Phone:    %s\n", c.Number())
	fmt.Printf("  ACI:      %s\n", c.ACI())
	fmt.Printf("  DeviceID: %d\n", c.DeviceID())
	return nil
}
