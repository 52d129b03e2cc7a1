package main

// Build information, set with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)
