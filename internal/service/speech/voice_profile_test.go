package speech

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVoiceAlias(t *testing.T) {
	assert.Equal(t, "en_female_amy_jupiter_bigtts", NormalizeVoiceAlias("en_default"))
	assert.Equal(t, "en_female_amy_jupiter_bigtts", NormalizeVoiceAlias(" EN_DEFAULT "))
	assert.Equal(t, "custom_voice", NormalizeVoiceAlias("custom_voice"))
	assert.Equal(t, "", NormalizeVoiceAlias(""))
}

func TestResolveTTSResourceCandidates(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		want  []string
	}{
		{name: "default voice", voice: "", want: []string{"volc.service_type.10029", "seed-tts-2.0"}},
		{name: "mega clone voice", voice: "S_clone_speaker", want: []string{"volc.megatts.default"}},
		{name: "bigtts voice", voice: "en_female_amy_jupiter_bigtts", want: []string{"seed-tts-2.0", "volc.service_type.10029"}},
		{name: "legacy 1.0 voice", voice: "en_male_adam", want: []string{"volc.service_type.10029", "seed-tts-2.0"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveTTSResourceCandidates(tt.voice), tt.name)
	}
}

func TestResolveTTSSpeakerCandidates(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		fallback string
		want     []string
	}{
		{name: "request and fallback", request: "persona-voice", fallback: "zh_female_vv_uranus_bigtts", want: []string{"persona-voice", "zh_female_vv_uranus_bigtts"}},
		{name: "request empty", request: "", fallback: "en_male_adam", want: []string{"en_male_adam"}},
		{name: "duplicates ignored", request: "EN_voice", fallback: "en_voice", want: []string{"EN_voice"}},
		{name: "persona alias", request: "en_default", fallback: "", want: []string{"en_female_amy_jupiter_bigtts"}},
		{name: "nothing configured", request: "", fallback: "", want: []string{"en_female_amy_jupiter_bigtts"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveTTSSpeakerCandidates(tt.request, tt.fallback), tt.name)
	}
}

func TestIsResourceMismatchError(t *testing.T) {
	assert.False(t, isResourceMismatchError(nil))
	assert.False(t, isResourceMismatchError(fmt.Errorf("some other error")))
	assert.True(t, isResourceMismatchError(fmt.Errorf(`TTS error: {"error":"resource ID is mismatched with speaker related resource"}`)))
}
