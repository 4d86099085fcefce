package main

import "github.com/nextlevelbuilder/a11ylens/cmd"

func main() {
	cmd.Execute()
}
