// Command listcrawler crawls classifieds listings into a work queue and
// exports the extracted items.
package main

import (
	"os"

	"github.com/JakeFAU/listcrawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
