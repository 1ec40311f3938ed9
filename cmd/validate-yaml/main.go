// Command validate-yaml checks run files before they are handed to harvester.
package main

import (
	"fmt"
	"os"

	"github.com/blockedby/channel-harvester/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("No files to check.")
		os.Exit(0)
	}

	failed := false
	for _, path := range os.Args[1:] {
		if err := check(path); err != nil {
			fmt.Printf("❌ %s: %v\n", path, err)
			failed = true
			continue
		}
		fmt.Printf("✅ %s is valid\n", path)
	}

	if failed {
		os.Exit(1)
	}
}

// check overlays the file on the defaults and validates the result,
// so partial run files pass as long as the merged options are usable.
func check(path string) error {
	rc := config.DefaultRunConfig()
	if err := rc.MergeFile(path); err != nil {
		return err
	}
	if err := rc.Validate(); err != nil {
		return err
	}
	if len(rc.Channels) == 0 {
		fmt.Printf("⚠️  %s names no channels, they must come from flags or HARVEST_CHANNELS\n", path)
	}
	return nil
}
