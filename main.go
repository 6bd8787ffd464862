// Command screencrawl captures websites as full-page screenshots.
package main

import "github.com/JakeFAU/screencrawl/cmd"

func main() {
	cmd.Execute()
}
