// Package main is the entry point for kiln.
package main

func main() {
	Execute()
}
