package main

import "time"

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	ConfigPath string
	Once       bool
	Daemon     bool
}

type StatusFlags struct {
	ConfigPath string
	JSON       bool
	// Remote daemon connection
	ServerURL string
	Timeout   time.Duration
}

type TemplateFlags struct {
	Profile string
	Email   string
}
