// Command swarm runs multi-stage agent pipelines from the CLI or as a server.
package main

func main() {
	Execute()
}
