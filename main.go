package main

import "github.com/ftl/tagstrainer/cmd"

func main() {
	cmd.Execute()
}
