package main

import "github.com/makeasinger/lrcgen/cmd/lrcctl/cmd"

func main() {
	cmd.Execute()
}
