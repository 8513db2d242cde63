package main

import (
	"ReleaseKit/cmd"
)

func main() {
	cmd.Execute()
}
