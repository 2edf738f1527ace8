package main

import "github.com/bryanchriswhite/WindowCapture/cmd/windowcapture/commands"

func main() {
	commands.Execute()
}
