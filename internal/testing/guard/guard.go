// Package guard switches the binaries into test mode. Test files of a main
// package blank-import it so calling main() never touches real services.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("DRE_TEST_MODE") == "" {
			_ = os.Setenv("DRE_TEST_MODE", "1")
		}
	})
}
