// The main package for the catalog-crawler executable.
package main

import (
	"github.com/retailscout/catalog-crawler/cmd"
)

func main() {
	cmd.Execute()
}
