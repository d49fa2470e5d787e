package main

import "github.com/encodeous/pimsm/cmd"

func main() {
	cmd.Execute()
}
