package browser

import (
	"runtime"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
)

// selectAllModifier is Command on macOS and Control elsewhere.
func selectAllModifier() schemas.KeyModifier {
	if runtime.GOOS == "darwin" {
		return schemas.ModMeta
	}
	return schemas.ModCtrl
}
