package catalog

import (
	"path/filepath"
	"sort"
)

// Model describes one installable TTS model: where it comes from and where
// its artifacts live on disk.
type Model struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	RepoID    string `json:"repo_id"`
	LocalPath string `json:"local_path"`
}

// Speaker is a purely descriptive voice profile offered by a model.
type Speaker struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Gender string `json:"gender"`
}

// Catalog is the static model descriptor table, resolved against the
// configured models directory at construction time.
type Catalog struct {
	models   map[string]Model
	speakers map[string][]Speaker
	defaults map[string]string
	keys     []string
}

// New builds the catalog rooted at modelsDir. The German key maps to the
// multilingual model, which covers EN, ES, ZH, DE, KO and AR.
func New(modelsDir string) *Catalog {
	models := map[string]Model{
		"en": {
			Key:       "en",
			Name:      "English",
			RepoID:    "nineninesix/kani-tts-400m-en",
			LocalPath: filepath.Join(modelsDir, "kani-tts-400m-en"),
		},
		"de": {
			Key:       "de",
			Name:      "German (Multilingual)",
			RepoID:    "nineninesix/kani-tts-370m",
			LocalPath: filepath.Join(modelsDir, "kani-tts-370m"),
		},
	}

	speakers := map[string][]Speaker{
		"en": {
			{ID: "jenny", Name: "Jenny", Gender: "female"},
			{ID: "katie", Name: "Katie", Gender: "female"},
			{ID: "david", Name: "David", Gender: "male"},
			{ID: "andrew", Name: "Andrew", Gender: "male"},
			{ID: "simon", Name: "Simon", Gender: "male"},
			{ID: "puck", Name: "Puck", Gender: "male"},
			{ID: "kore", Name: "Kore", Gender: "female"},
		},
		"de": {
			{ID: "thorsten", Name: "Thorsten", Gender: "male"},
			{ID: "bert", Name: "Bert", Gender: "male"},
		},
	}

	defaults := map[string]string{
		"en": "jenny",
		"de": "thorsten",
	}

	keys := make([]string, 0, len(models))
	for key := range models {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &Catalog{models: models, speakers: speakers, defaults: defaults, keys: keys}
}

// Lookup returns the descriptor for key.
func (c *Catalog) Lookup(key string) (Model, bool) {
	m, ok := c.models[key]
	return m, ok
}

// Speakers returns the speaker profiles for key in catalog order.
func (c *Catalog) Speakers(key string) []Speaker {
	return c.speakers[key]
}

// DefaultSpeaker returns the configured default speaker id for key, or empty
// when the model has none.
func (c *Catalog) DefaultSpeaker(key string) string {
	return c.defaults[key]
}

// Keys returns all model keys sorted.
func (c *Catalog) Keys() []string {
	return append([]string(nil), c.keys...)
}
