/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"github.com/munindb/munin/cmd/munin/cmd"
)

func main() {
	cmd.Execute()
}
