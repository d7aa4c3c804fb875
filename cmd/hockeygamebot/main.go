package main

import "github.com/pfrederiksen/hockeygamebot/internal/cli"

var version = "dev"

func main() {
	cli.Version = version
	cli.Execute()
}
