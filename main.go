package main

import "github.com/agentic-research/skein/cmd"

func main() {
	cmd.Execute()
}
