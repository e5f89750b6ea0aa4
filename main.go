/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "flowrelay/cmd"

func main() {
	cmd.Execute()
}
