// Package guard switches the process into test mode when imported from tests.
package guard

import (
	"os"
	"sync"

	"github.com/psicare/psicare/internal/app"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(app.TestModeEnv) == "" {
			_ = os.Setenv(app.TestModeEnv, "1")
		}
		app.RefreshTestMode()
	})
}
