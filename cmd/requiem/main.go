// Command requiem runs the connection-dispatch core as a standalone
// process, with a cobra/pflag/viper configuration surface generalized
// from a flag.FlagSet-based serverCommand (listen/cert/key/-v/-retry
// flags).
package main

import (
	"fmt"
	"os"

	"github.com/Mabuchin/requiem/cmd/requiem/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
