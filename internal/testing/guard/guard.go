package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("SELINGGONET_TEST_MODE") == "" {
			_ = os.Setenv("SELINGGONET_TEST_MODE", "1")
		}
	})
}
