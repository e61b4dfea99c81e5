package main

import "github.com/notargets/femassembler/cmd"

func main() {
	cmd.Execute()
}
