package speech

import "strings"

// 人设音色别名到火山引擎音色 ID
var voiceAliases = map[string]string{
	"en_default":                   "en_female_amy_jupiter_bigtts",
	"kai":                          "en_male_glen_emo_v2_mars_bigtts",
	"en_female_amy_jupiter_bigtts": "en_female_amy_jupiter_bigtts",
	"zh_female_vv_uranus_bigtts":   "zh_female_vv_uranus_bigtts",
}

// NormalizeVoiceAlias 将别名解析为实际音色 ID，未知值原样返回
func NormalizeVoiceAlias(voice string) string {
	voice = strings.TrimSpace(voice)
	if mapped, ok := voiceAliases[strings.ToLower(voice)]; ok {
		return mapped
	}
	return voice
}

func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	var candidates []string

	add := func(s string) {
		s = NormalizeVoiceAlias(s)
		if s == "" {
			return
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)
	if len(candidates) == 0 {
		add("en_default")
	}
	return candidates
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{defaultResource, seedResource}
	}

	// 声音复刻音色
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "neptune", "mercury", "pluto", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}

	return []string{defaultResource, seedResource}
}
