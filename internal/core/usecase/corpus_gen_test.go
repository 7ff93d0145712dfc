package usecase

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Trivonta/compress-classify/internal/core/domain"
)

var topicSentences = map[string][]string{
	"A": {
		"The telescope tracked the faint galaxy across the northern sky for hours.",
		"Spectral lines revealed hydrogen clouds drifting between distant stars.",
		"Orbital resonance keeps the small moons locked in a steady rhythm.",
		"Cosmic background radiation carries the imprint of the early universe.",
		"A red giant sheds its outer layers into a glowing planetary nebula.",
		"Gravitational lensing bends light around the massive galaxy cluster.",
		"The comet tail always points away from the sun because of solar wind.",
		"Exoplanet transits dim the host star by a tiny measurable fraction.",
		"Neutron stars spin hundreds of times per second after the collapse.",
		"Dark matter halos shape the rotation curves of spiral galaxies.",
	},
	"B": {
		"Sourdough fermentation needs a lively starter and a patient baker.",
		"Caramelized onions bring sweetness to the slow cooked beef stew.",
		"Fresh basil and ripe tomatoes make the simplest summer pasta sauce.",
		"Resting the dough overnight in the fridge deepens its flavour.",
		"A sharp knife and a steady cutting board keep the kitchen safe.",
		"Toasted cumin seeds perfume the lentil soup with warm earthy notes.",
		"Whisk the egg whites until stiff peaks form before folding them in.",
		"Brown butter adds a nutty depth to cookies and roasted vegetables.",
		"Pickled red onions brighten tacos with a sharp tangy crunch.",
		"Braised greens soak up garlic olive oil and a squeeze of lemon.",
	},
}

// writeTopicDoc writes a document made of sentences drawn from one topic.
func writeTopicDoc(t *testing.T, dir, category, name string, seed uint64) domain.Document {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 7))
	sentences := topicSentences[category]
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString(sentences[rng.IntN(len(sentences))])
		b.WriteByte(' ')
	}
	return writeTestDoc(t, dir, category, name, b.String())
}

func writeTopicDocs(t *testing.T, dir, category string, n int, seedBase uint64) []domain.Document {
	t.Helper()
	docs := make([]domain.Document, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s%d.txt", strings.ToLower(category), i+1)
		docs = append(docs, writeTopicDoc(t, dir, category, name, seedBase+uint64(i)))
	}
	return docs
}

func topicDir(t *testing.T, root, category string) string {
	t.Helper()
	return mkdirAll(t, filepath.Join(root, category))
}

func mkdirAll(t *testing.T, dir string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	return dir
}
