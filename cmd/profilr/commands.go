package main

import (
	"context"
	"fmt"
	"os"

	"github.com/loykin/profilr/pkg/client"
)

type command struct{}

// dial builds an API client from shared flags and verifies the service is up.
func (c *command) dial(f clientFlags) (*client.Client, error) {
	apiBase := f.APIBase
	if apiBase == "" {
		apiBase = "http://127.0.0.1:8080" // Default local service
	}
	cl := client.New(client.Config{BaseURL: apiBase, Timeout: f.Timeout})
	if !cl.IsReachable(context.Background()) {
		return nil, fmt.Errorf("service not reachable at %s - please start it first with 'profilr serve'", apiBase)
	}
	return cl, nil
}

// Start requests a launch for one profile and prints the service response.
func (c *command) Start(f StartFlags) error {
	cl, err := c.dial(f.clientFlags)
	if err != nil {
		return err
	}
	resp, err := cl.StartProfile(context.Background(), f.ProfileID)
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

// Status prints one record, or the whole registry when no profile is named.
func (c *command) Status(f StatusFlags) error {
	cl, err := c.dial(f.clientFlags)
	if err != nil {
		return err
	}
	if f.ProfileID != "" {
		st, err := cl.StatusFor(context.Background(), f.ProfileID)
		if err != nil {
			return err
		}
		printJSON(st)
		return nil
	}
	all, err := cl.Status(context.Background())
	if err != nil {
		return err
	}
	printJSON(all)
	return nil
}

// Inject pushes a script payload into every open page of a started profile.
func (c *command) Inject(f InjectFlags) error {
	inline := f.InlineJS
	if f.ScriptFile != "" {
		b, err := os.ReadFile(f.ScriptFile)
		if err != nil {
			return fmt.Errorf("read script file: %w", err)
		}
		inline = string(b)
	}
	cl, err := c.dial(f.clientFlags)
	if err != nil {
		return err
	}
	resp, err := cl.Inject(context.Background(), f.ProfileID, f.ScriptURL, inline)
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}
