// Package main provides the secretsync CLI tool for pushing environment
// secrets to every repository of a GitHub account.
package main

import "github.com/mscno/secretsync/cmd/secretsync/commands"

func main() {
	commands.Execute(Version)
}
