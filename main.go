package main

import "github.com/nextlevelbuilder/mingle/cmd"

func main() {
	cmd.Execute()
}
