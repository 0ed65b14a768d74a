package main

import "github.com/example/ai-radar/cmd"

func main() {
	cmd.Execute()
}
