package cache

import (
	"os"
	"path/filepath"
)

// Dirs is the working directory tree for one installation.
type Dirs struct {
	Root     string
	Fonts    string
	Assets   string
	Output   string
	BgAudio  string
	BgVideo  string
	Reddit   string
	AI       string
	Captions string
	TTS      string
}

func NewDirs(root string) Dirs {
	assets := filepath.Join(root, "assets")
	return Dirs{
		Root:     root,
		Fonts:    filepath.Join(root, "fonts"),
		Assets:   assets,
		Output:   filepath.Join(assets, "output"),
		BgAudio:  filepath.Join(assets, "bg-audio"),
		BgVideo:  filepath.Join(assets, "bg-video"),
		Reddit:   filepath.Join(assets, "reddit"),
		AI:       filepath.Join(assets, "ai"),
		Captions: filepath.Join(assets, "captions"),
		TTS:      filepath.Join(assets, "tts"),
	}
}

// Ensure creates every directory in the tree.
func (d Dirs) Ensure() error {
	for _, dir := range []string{d.Fonts, d.Assets, d.Output, d.BgAudio, d.BgVideo, d.Reddit, d.AI, d.Captions, d.TTS} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Clean removes dir and everything in it. The next Ensure recreates it empty.
func Clean(dir string) error {
	return os.RemoveAll(dir)
}
