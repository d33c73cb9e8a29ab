// The main package for the freegame-watcher executable.
package main

import (
	"github.com/JakeFAU/freegame-watcher/cmd"
)

func main() {
	cmd.Execute()
}
