package backend

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/chatpilot-cli/internal/config"
)

// StrategyKind selects how a control is located.
type StrategyKind int

const (
	// ByAccessibilityName matches an accessibility element by name or
	// description (native) or aria-label / title (browser).
	ByAccessibilityName StrategyKind = iota
	// ByCSSSelector matches a DOM element. Browser only.
	ByCSSSelector
	// ByTextContent matches an element whose visible text contains Value.
	ByTextContent
	// ByFixedGeometry computes a point relative to a surface rectangle.
	ByFixedGeometry
)

func (k StrategyKind) String() string {
	switch k {
	case ByAccessibilityName:
		return "accessibility"
	case ByCSSSelector:
		return "css"
	case ByTextContent:
		return "text"
	case ByFixedGeometry:
		return "geometry"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseStrategyKind maps a configuration name to a kind.
func ParseStrategyKind(name string) (StrategyKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case config.KindAccessibility, "a11y", "ax":
		return ByAccessibilityName, nil
	case config.KindCSS, "selector":
		return ByCSSSelector, nil
	case config.KindText:
		return ByTextContent, nil
	case config.KindGeometry, "geo":
		return ByFixedGeometry, nil
	}
	return 0, fmt.Errorf("unknown strategy kind %q", name)
}

// Anchor positions a geometry strategy inside its surface: the point is
// (x + width*XRatio + XOffset, y + height*YRatio + YOffset).
type Anchor struct {
	XRatio  float64
	YRatio  float64
	XOffset int
	YOffset int
}

// Strategy is one way of finding a control.
type Strategy struct {
	Kind StrategyKind
	// Value is the name, selector or text to match. Unused for geometry.
	Value string
	// Window restricts the search to the surface with this identity. Empty
	// means the main surface.
	Window string
	// Index picks the n-th match when several elements qualify.
	Index  int
	Anchor Anchor
}

// Placeholders understood by Bind.
const (
	VarQuery  = "query"
	VarWindow = "window"
)

// Bind returns a copy with {name} placeholders in Value and Window replaced.
func (s Strategy) Bind(vars map[string]string) Strategy {
	if len(vars) == 0 {
		return s
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	s.Value = r.Replace(s.Value)
	s.Window = r.Replace(s.Window)
	return s
}

func (s Strategy) String() string {
	var b strings.Builder
	b.WriteString(s.Kind.String())
	if s.Kind == ByFixedGeometry {
		fmt.Fprintf(&b, "(%.2f,%.2f%+d%+d)", s.Anchor.XRatio, s.Anchor.YRatio, s.Anchor.XOffset, s.Anchor.YOffset)
	} else {
		fmt.Fprintf(&b, "(%q)", s.Value)
	}
	if s.Window != "" {
		fmt.Fprintf(&b, " in %q", s.Window)
	}
	if s.Index > 0 {
		fmt.Fprintf(&b, " #%d", s.Index)
	}
	return b.String()
}

// BindAll binds every strategy of a chain.
func BindAll(chain []Strategy, vars map[string]string) []Strategy {
	out := make([]Strategy, len(chain))
	for i, s := range chain {
		out[i] = s.Bind(vars)
	}
	return out
}

// StrategiesFromConfig converts a configured chain, preserving order.
func StrategiesFromConfig(cfgs []config.StrategyConfig) ([]Strategy, error) {
	out := make([]Strategy, 0, len(cfgs))
	for i, c := range cfgs {
		kind, err := ParseStrategyKind(c.Kind)
		if err != nil {
			return nil, fmt.Errorf("strategy %d: %w", i, err)
		}
		if kind != ByFixedGeometry && c.Value == "" && kind != ByAccessibilityName {
			return nil, fmt.Errorf("strategy %d: %s strategy requires a value", i, kind)
		}
		out = append(out, Strategy{
			Kind:   kind,
			Value:  c.Value,
			Window: c.Window,
			Index:  c.Index,
			Anchor: Anchor{XRatio: c.XRatio, YRatio: c.YRatio, XOffset: c.XOffset, YOffset: c.YOffset},
		})
	}
	return out, nil
}

// Chains holds the converted strategy chains for every control.
type Chains struct {
	Search       []Strategy
	SearchResult []Strategy
	MessageInput []Strategy
	LoggedIn     []Strategy
}

// ChainsFromConfig converts a configured StrategySet.
func ChainsFromConfig(set config.StrategySet) (Chains, error) {
	var (
		c   Chains
		err error
	)
	if c.Search, err = StrategiesFromConfig(set.Search); err != nil {
		return c, fmt.Errorf("search: %w", err)
	}
	if c.SearchResult, err = StrategiesFromConfig(set.SearchResult); err != nil {
		return c, fmt.Errorf("search_result: %w", err)
	}
	if c.MessageInput, err = StrategiesFromConfig(set.MessageInput); err != nil {
		return c, fmt.Errorf("message_input: %w", err)
	}
	if c.LoggedIn, err = StrategiesFromConfig(set.LoggedIn); err != nil {
		return c, fmt.Errorf("logged_in: %w", err)
	}
	return c, nil
}
