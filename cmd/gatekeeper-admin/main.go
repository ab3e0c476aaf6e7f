// Command gatekeeper-admin is the operator CLI for the Gatekeeper key store.
package main

import "github.com/merchware/gatekeeper/cmd/cli"

func main() {
	cli.Execute()
}
