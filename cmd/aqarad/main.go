// Command aqarad polls Aqara Camera G3 devices on the Aqara cloud and
// exposes them over HTTP and Home Assistant MQTT discovery.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
