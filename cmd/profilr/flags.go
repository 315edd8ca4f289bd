package main

import "time"

// clientFlags Flag structs to decouple cobra from logic for testing.
// These shared fields select the service a remote command talks to.
type clientFlags struct {
	APIBase string
	Timeout time.Duration
}

type StartFlags struct {
	ProfileID string
	clientFlags
}

type StatusFlags struct {
	ProfileID string
	clientFlags
}

type InjectFlags struct {
	ProfileID  string
	ScriptURL  string
	InlineJS   string
	ScriptFile string
	clientFlags
}

type ServeFlags struct {
	ConfigPath string
	Listen     string
}
