package core

// RuleTemplate is a named rule preset an operator can start a task from.
type RuleTemplate struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Industry string    `json:"industry"`
	Strength string    `json:"strength"`
	Rules    TaskRules `json:"rules"`
}

func lowFanPreset(strength string, fanMax, viewsMin int64, favRate, coinRate, replyRate, favFanRatio float64) LowFanHotRule {
	return LowFanHotRule{
		Enabled:     true,
		Strength:    strength,
		FanMax:      fanMax,
		ViewsMin:    viewsMin,
		FavRate:     favRate,
		CoinRate:    coinRate,
		ReplyRate:   replyRate,
		FavFanRatio: favFanRatio,
		WindowDays:  7,
	}
}

// RuleTemplates lists the built-in industry presets. The strength knob only
// changes how strict the six low-fan thresholds are, not the pass count.
func RuleTemplates() []RuleTemplate {
	basic := DefaultRules().BasicHot
	presets := []struct {
		strength string
		lowFan   LowFanHotRule
	}{
		{"light", lowFanPreset("light", 80000, 20000, 0.008, 0.0015, 0.0015, 0.015)},
		{"balanced", lowFanPreset("balanced", 50000, 30000, 0.012, 0.0025, 0.0020, 0.02)},
		{"strong", lowFanPreset("strong", 30000, 50000, 0.015, 0.0035, 0.0025, 0.03)},
	}
	industries := []struct{ id, label string }{
		{"appliance", "家电"},
		{"3c", "3C"},
	}
	labels := map[string]string{"light": "轻", "balanced": "中", "strong": "强"}

	var out []RuleTemplate
	for _, ind := range industries {
		for _, p := range presets {
			out = append(out, RuleTemplate{
				ID:       ind.id + "-" + p.strength,
				Name:     ind.label + " 低粉爆款（" + labels[p.strength] + "）",
				Industry: ind.label,
				Strength: p.strength,
				Rules:    TaskRules{BasicHot: basic, LowFanHot: p.lowFan},
			})
		}
	}
	return out
}
