package tts

import "github.com/MrWong99/npcvoice/pkg/types"

// VoiceProfile is the voice description shared by all providers.
type VoiceProfile = types.VoiceProfile

// FilterByGender returns the voices whose metadata gender equals g. Passing
// [types.GenderNeuter] disables filtering and returns voices unchanged.
func FilterByGender(voices []VoiceProfile, g types.Gender) []VoiceProfile {
	if g == types.GenderNeuter || g == "" {
		return voices
	}
	out := make([]VoiceProfile, 0, len(voices))
	for _, v := range voices {
		if v.Gender() == g {
			out = append(out, v)
		}
	}
	return out
}
