// Command httpx-echo runs an echo server on the httpx engine and doubles as
// a small client for poking at HTTP/1.1 servers.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
