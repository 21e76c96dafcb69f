package main

import "github.com/stephnangue/stash/cmd"

func main() {
	cmd.Execute()
}
