// Package rules implements the pure classification engine that maps raw
// engagement metrics to hotness tags.
package rules

import (
	"sort"
	"strconv"

	"github.com/uplens/uplens/internal/core"
)

// statFields is the canonical evaluation order for basic_hot thresholds, so
// reason lists come out identical for identical inputs.
var statFields = []string{"views", "like", "fav", "coin", "reply", "share"}

// Evaluate classifies one video. It is pure: no I/O, no clock, no shared state.
func Evaluate(stats core.Stats, followerCount int64, rules core.TaskRules) core.Tags {
	return core.Tags{
		BasicHot:  evaluateBasicHot(stats, rules.BasicHot),
		LowFanHot: evaluateLowFanHot(stats, followerCount, rules.LowFanHot),
	}
}

func evaluateBasicHot(stats core.Stats, cfg core.BasicHotRule) core.HotTag {
	if !cfg.Enabled {
		return core.HotTag{}
	}

	var reasons []string
	for _, field := range thresholdFields(cfg.Thresholds) {
		threshold := cfg.Thresholds[field]
		if float64(statValue(stats, field)) >= threshold {
			reasons = append(reasons, field+">="+formatNumber(threshold))
		}
	}
	if len(reasons) == 0 {
		return core.HotTag{}
	}
	if cfg.Mode == "all" && len(reasons) != len(cfg.Thresholds) {
		return core.HotTag{}
	}
	return core.HotTag{Hit: true, Reasons: reasons}
}

func evaluateLowFanHot(stats core.Stats, followerCount int64, cfg core.LowFanHotRule) core.HotTag {
	if !cfg.Enabled {
		return core.HotTag{}
	}
	if stats.Views == 0 || followerCount == 0 {
		return core.HotTag{Reasons: []string{"views_or_follower_zero"}}
	}

	favRate := float64(stats.Fav) / float64(stats.Views)
	coinRate := float64(stats.Coin) / float64(stats.Views)
	replyRate := float64(stats.Reply) / float64(stats.Views)
	favFanRatio := float64(stats.Fav) / float64(followerCount)

	var reasons []string
	if followerCount <= cfg.FanMax {
		reasons = append(reasons, "fan<="+strconv.FormatInt(cfg.FanMax, 10))
	}
	if stats.Views >= cfg.ViewsMin {
		reasons = append(reasons, "views>="+strconv.FormatInt(cfg.ViewsMin, 10))
	}
	if favRate >= cfg.FavRate {
		reasons = append(reasons, "fav_rate>="+formatNumber(cfg.FavRate))
	}
	if coinRate >= cfg.CoinRate {
		reasons = append(reasons, "coin_rate>="+formatNumber(cfg.CoinRate))
	}
	if replyRate >= cfg.ReplyRate {
		reasons = append(reasons, "reply_rate>="+formatNumber(cfg.ReplyRate))
	}
	if favFanRatio >= cfg.FavFanRatio {
		reasons = append(reasons, "fav_fan_ratio>="+formatNumber(cfg.FavFanRatio))
	}

	// Six checks, six required: the count construct is an all-of gate.
	const required = 6
	if len(reasons) >= required {
		return core.HotTag{Hit: true, Reasons: reasons}
	}
	return core.HotTag{Reasons: reasons}
}

func thresholdFields(thresholds map[string]float64) []string {
	ordered := make([]string, 0, len(thresholds))
	for _, field := range statFields {
		if _, ok := thresholds[field]; ok {
			ordered = append(ordered, field)
		}
	}
	var extras []string
	for field := range thresholds {
		if !isKnownField(field) {
			extras = append(extras, field)
		}
	}
	sort.Strings(extras)
	return append(ordered, extras...)
}

func isKnownField(field string) bool {
	for _, f := range statFields {
		if f == field {
			return true
		}
	}
	return false
}

func statValue(stats core.Stats, field string) int64 {
	switch field {
	case "views":
		return stats.Views
	case "like":
		return stats.Like
	case "fav":
		return stats.Fav
	case "coin":
		return stats.Coin
	case "reply":
		return stats.Reply
	case "share":
		return stats.Share
	default:
		return 0
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
