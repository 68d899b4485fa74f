package main

import "github.com/solyield/corridor/cmd"

func main() {
	cmd.Execute()
}
