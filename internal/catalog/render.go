package catalog

import (
	"sort"
	"strings"
)

// GL property defaults the viewer already applies. Emitting them would only
// bloat the config payload.
var (
	paintDefaults = map[string]any{
		"fill-opacity": 1.0,
	}
	layoutDefaults = map[string]any{
		"line-cap":  "butt",
		"line-join": "miter",
		"icon-size": 1.0,
		"text-size": 16.0,
	}
	circlePaintDefaults = map[string]any{
		"circle-radius": 5.0,
	}
)

// viewerRenderLayer converts a stored render layer to its viewer form,
// dropping properties that match GL defaults.
func viewerRenderLayer(rl RenderLayer) RenderLayer {
	paint := paintDefaults
	if rl.Type == "circle" {
		paint = merged(paintDefaults, circlePaintDefaults)
	}

	return RenderLayer{
		Type:   rl.Type,
		Name:   rl.Name,
		Paint:  stripDefaults(rl.Paint, paint),
		Layout: stripDefaults(rl.Layout, layoutDefaults),
		Filter: rl.Filter,
	}
}

func stripDefaults(props, defaults map[string]any) map[string]any {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if d, ok := defaults[k]; ok && equalProperty(v, d) {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// equalProperty compares scalar GL property values. JSON decoding yields
// float64 for all numbers, so numeric defaults compare directly.
func equalProperty(a, b any) bool {
	if af, ok := a.(float64); ok {
		bf, ok := b.(float64)
		return ok && af == bf
	}
	return a == b
}

func merged(maps ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// spriteRefs collects the distinct sprite icons referenced by symbol
// layers, sorted for stable config output.
func spriteRefs(layers []RenderLayer) []string {
	seen := make(map[string]struct{})
	for _, rl := range layers {
		icon, ok := rl.Layout["icon-image"].(string)
		if !ok || icon == "" {
			continue
		}
		// Data-driven expressions like "{icon}" cannot be resolved here.
		if strings.ContainsAny(icon, "{}") {
			continue
		}
		seen[icon] = struct{}{}
	}

	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for icon := range seen {
		out = append(out, icon)
	}
	sort.Strings(out)
	return out
}
