package main

import "github.com/oshokin/super-release/cmd/super-ci/cmd"

func main() {
	cmd.Execute()
}
