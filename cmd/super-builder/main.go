package main

import "github.com/oshokin/super-release/cmd/super-builder/cmd"

func main() {
	cmd.Execute()
}
