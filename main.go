package main

import "github.com/KaramelBytes/equiplens-cli/cmd"

func main() {
	cmd.Execute()
}
