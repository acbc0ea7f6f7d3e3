// Command dittostore drives storage location backends and raw object store
// commands from the command line.
package main

func main() {
	Execute()
}
