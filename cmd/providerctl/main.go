// Command providerctl switches the phone provider used for new submissions without
// restarting the API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Root(openStore).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
