// Package main is the single-binary entrypoint for FocusQuest.
package main

import "github.com/focusquest/focusquest/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
