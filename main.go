// Package main is the entry point of FilterSync.
package main

import "github.com/AdguardTeam/FilterSync/internal/cmd"

func main() {
	cmd.Main()
}
