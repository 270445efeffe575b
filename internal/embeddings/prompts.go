package embeddings

import (
	"math/rand"
	"strings"
)

var (
	promptSubjects = []string{
		"cat", "dog", "fox", "lighthouse", "castle", "robot", "astronaut", "owl",
		"sailboat", "mountain", "forest", "city street", "teapot", "bicycle",
	}
	promptStyles = []string{
		"a photo of", "an oil painting of", "a watercolor of", "a sketch of",
		"a 3d render of", "a close-up photo of", "a vintage postcard of",
	}
	promptDetails = []string{
		"at sunset", "in the snow", "on a red sofa", "under neon lights",
		"in a misty valley", "on a wooden table", "at night", "in spring",
	}
)

// GeneratePrompts returns n synthetic image captions for load testing.
// The same seed yields the same prompts.
func GeneratePrompts(n int, seed int64) []string {
	r := rand.New(rand.NewSource(seed))
	result := make([]string, n)

	for i := range result {
		parts := []string{
			promptStyles[r.Intn(len(promptStyles))],
			"a",
			promptSubjects[r.Intn(len(promptSubjects))],
		}
		if r.Intn(3) > 0 {
			parts = append(parts, promptDetails[r.Intn(len(promptDetails))])
		}
		result[i] = strings.Join(parts, " ")
	}
	return result
}
