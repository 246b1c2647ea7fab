// Command cellpilot runs the notebook agent orchestrator and talks to a
// running instance over its control API.
package main

func main() {
	execute()
}
