package native

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
)

// quote renders s as an AppleScript string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// Separators used by the list scripts. Window titles are free text, so records
// are parsed from the right where only numbers follow the last separator.
const (
	recordSep = ";;;"
	nameSep   = ":"
	fieldSep  = "|"
)

func isRunningScript(app string) string {
	return fmt.Sprintf(`tell application "System Events"
	return (name of processes) contains %s
end tell`, quote(app))
}

func activateScript(app string) string {
	return fmt.Sprintf(`tell application %s
	activate
end tell`, quote(app))
}

func launchScript(app string) string {
	return fmt.Sprintf(`tell application %s
	launch
	activate
end tell`, quote(app))
}

func raiseScript(app, window string) string {
	return fmt.Sprintf(`tell application "System Events"
	tell process %s
		perform action "AXRaise" of window %s
	end tell
end tell`, quote(app), quote(window))
}

func listWindowsScript(app string) string {
	return fmt.Sprintf(`tell application "System Events"
	tell process %s
		set winInfo to {}
		repeat with w in every window
			set wName to name of w
			if wName is missing value then set wName to ""
			set wPos to position of w
			set wSize to size of w
			set end of winInfo to wName & %s & ((item 1 of wPos as integer) as text) & %s & ((item 2 of wPos as integer) as text) & %s & ((item 1 of wSize as integer) as text) & %s & ((item 2 of wSize as integer) as text)
		end repeat
		set AppleScript's text item delimiters to %s
		return winInfo as text
	end tell
end tell`, quote(app), quote(nameSep), quote(fieldSep), quote(fieldSep), quote(fieldSep), quote(recordSep))
}

// windowRef selects a window by name. An empty name means the main window,
// falling back to the front window.
func windowRef(mainWindow, name string) string {
	if name == "" {
		return fmt.Sprintf(`try
			set w to window %s
		on error
			set w to front window
		end try`, quote(mainWindow))
	}
	return fmt.Sprintf("set w to window %s", quote(name))
}

func windowGeometryScript(app, mainWindow, name string) string {
	return fmt.Sprintf(`tell application "System Events"
	tell process %s
		%s
		set wPos to position of w
		set wSize to size of w
		return (name of w) & %s & ((item 1 of wPos as integer) as text) & %s & ((item 2 of wPos as integer) as text) & %s & ((item 1 of wSize as integer) as text) & %s & ((item 2 of wSize as integer) as text)
	end tell
end tell`, quote(app), windowRef(mainWindow, name), quote(nameSep), quote(fieldSep), quote(fieldSep), quote(fieldSep))
}

// findElementScript walks the accessibility tree of one window and returns
// the frame of the index-th element matching needle as "x|y|w|h", or "" when
// nothing matches. editableOnly restricts the walk to text input roles and
// matches against name, description and placeholder; otherwise any element
// whose name or value contains needle qualifies.
func findElementScript(app, mainWindow, window, needle string, index int, editableOnly bool) string {
	roleFilter := "true"
	fields := `(description of e) & " " & (name of e) & " " & (value of attribute "AXPlaceholderValue" of e)`
	if editableOnly {
		roleFilter = `{"AXTextField", "AXTextArea", "AXComboBox", "AXSearchField"} contains (role of e)`
	} else {
		fields = `(name of e) & " " & (value of e)`
	}
	return fmt.Sprintf(`tell application "System Events"
	tell process %s
		%s
		set needle to %s
		set found to 0
		repeat with e in (entire contents of w)
			try
				if %s then
					set hay to ""
					try
						set hay to %s
					end try
					if needle is "" or hay contains needle then
						if found is %d then
							set p to position of e
							set s to size of e
							return ((item 1 of p as integer) as text) & %s & ((item 2 of p as integer) as text) & %s & ((item 1 of s as integer) as text) & %s & ((item 2 of s as integer) as text)
						end if
						set found to found + 1
					end if
				end if
			end try
		end repeat
		return ""
	end tell
end tell`, quote(app), windowRef(mainWindow, window), quote(needle), roleFilter, fields, index,
		quote(fieldSep), quote(fieldSep), quote(fieldSep))
}

func dockBadgeScript(app string) string {
	return fmt.Sprintf(`tell application "System Events"
	tell process "Dock"
		try
			repeat with dockItem in (every UI element of list 1)
				if name of dockItem is %s then
					try
						set badgeText to value of attribute "AXStatusLabel" of dockItem
						if badgeText is not missing value then return badgeText
					end try
					return "0"
				end if
			end repeat
		end try
		return "0"
	end tell
end tell`, quote(app))
}

func clickAtScript(app string, x, y int) string {
	return fmt.Sprintf(`tell application "System Events"
	tell process %s
		click at {%d, %d}
	end tell
end tell`, quote(app), x, y)
}

// keyCodes maps named keys to macOS virtual key codes.
var keyCodes = map[schemas.Key]int{
	schemas.KeyReturn:    36,
	schemas.KeyTab:       48,
	schemas.KeyBackspace: 51,
	schemas.KeyEscape:    53,
}

func usingClause(mods schemas.KeyModifier) string {
	var parts []string
	if mods.Has(schemas.ModMeta) {
		parts = append(parts, "command down")
	}
	if mods.Has(schemas.ModCtrl) {
		parts = append(parts, "control down")
	}
	if mods.Has(schemas.ModAlt) {
		parts = append(parts, "option down")
	}
	if mods.Has(schemas.ModShift) {
		parts = append(parts, "shift down")
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return " using " + parts[0]
	default:
		return " using {" + strings.Join(parts, ", ") + "}"
	}
}

func keyScript(app string, key schemas.Key, mods schemas.KeyModifier) string {
	var stroke string
	if code, ok := keyCodes[key]; ok {
		stroke = fmt.Sprintf("key code %d", code)
	} else {
		stroke = "keystroke " + quote(string(key))
	}
	return fmt.Sprintf(`tell application "System Events"
	tell process %s
		%s%s
	end tell
end tell`, quote(app), stroke, usingClause(mods))
}
