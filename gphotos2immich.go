// Sync photos, videos and albums from Google Photos to Immich
package main

import (
	"github.com/gphotos2immich/gphotos2immich/cmd"
)

func main() {
	cmd.Main()
}
