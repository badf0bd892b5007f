// Package main is the entry point for cgi-probe. The serve command runs a
// standalone HTTP host for the probe scripts; the cgi command answers a
// single request as a CGI child of another web server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cgiprobe:", err)
		os.Exit(1)
	}
}
