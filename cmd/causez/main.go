// causez ships and inspects causal trace events.
package main

import "github.com/zoobzio/causez/internal/cli"

func main() {
	cli.Execute()
}
