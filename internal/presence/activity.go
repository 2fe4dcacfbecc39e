package presence

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/hackclub/hackatime-desktop/internal/config"
	"github.com/hackclub/hackatime-desktop/internal/discord"
)

// discordMaxLen is the longest details or state text Discord accepts.
const discordMaxLen = 128

// build renders a into the wire activity.
func build(cfg *config.Config, a Activity) *discord.Activity {
	f := config.Fields{
		Project:  cfg.ProjectName(a.Project, a.Entity),
		Language: a.Language,
		Editor:   a.Editor,
		File:     cfg.FileName(a.Entity),
	}

	act := &discord.Activity{
		Details: clip(cfg.FormatDetails(f)),
		State:   clip(cfg.FormatState(f)),
	}
	if assets := cfg.Display.Assets; assets != (config.AssetsConfig{}) {
		act.Assets = &discord.Assets{
			LargeImage: assets.LargeImage,
			LargeText:  assets.LargeText,
			SmallImage: assets.SmallImage,
			SmallText:  assets.SmallText,
		}
	}
	if cfg.Display.ShowElapsed && !a.Start.IsZero() {
		act.Timestamps = &discord.Timestamps{Start: a.Start.Unix()}
	}
	return act
}

// clip shortens s to discordMaxLen runes, ending in an ellipsis when cut.
func clip(s string) string {
	if utf8.RuneCountInString(s) <= discordMaxLen {
		return s
	}
	r := []rune(s)
	return string(r[:discordMaxLen-1]) + "…"
}

// hash returns a digest of a for change detection, or "" for nil.
func hash(a *discord.Activity) string {
	if a == nil {
		return ""
	}
	data, err := json.Marshal(a)
	if err != nil {
		slog.Warn("failed to hash activity", "error", err)
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
