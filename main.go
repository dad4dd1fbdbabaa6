package main

import "thoreinstein.com/fel/cmd"

func main() {
	cmd.Execute()
}
