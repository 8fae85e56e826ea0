/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "simplexbridge/cmd"

func main() {
	cmd.Execute()
}
