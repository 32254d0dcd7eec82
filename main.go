package main

import "github.com/claude-code-open/cco/cmd"

func main() {
	cmd.Execute()
}
