// Command attestctl submits and settles tweet attestation claims against a
// running attestd.
package main

import (
	"fmt"
	"os"

	"tweetattest-backend/client"
)

func main() {
	if err := newRootCmd(nil).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", client.UserMessage(err))
		os.Exit(1)
	}
}
