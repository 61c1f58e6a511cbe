package tokenizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

const (
	configFilename           = "tokenizer_config.json"
	specialTokensMapFilename = "special_tokens_map.json"
)

// Settings are the tokenizer settings written next to the model weights.
type Settings struct {
	ModelMaxLength int
	PaddingSide    string
	AddEOSToken    bool
	// PadWithEOS aliases the pad token to the end-of-sequence token.
	PadWithEOS bool
}

// Config is the effective configuration of a saved tokenizer.
type Config struct {
	ModelMaxLength int
	PaddingSide    string
	AddEOSToken    bool
	EOSToken       string
	PadToken       string
}

// Finalize rewrites the tokenizer files in dir with the given settings. Keys that are not
// controlled by the settings are preserved.
func Finalize(dir string, s Settings) error {
	p, err := readJSON(filepath.Join(dir, configFilename))
	if err != nil {
		return err
	}
	stm, err := readJSON(filepath.Join(dir, specialTokensMapFilename))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		stm = map[string]json.RawMessage{}
	}

	if err := setJSON(p, "model_max_length", s.ModelMaxLength); err != nil {
		return err
	}
	if err := setJSON(p, "padding_side", s.PaddingSide); err != nil {
		return err
	}
	if err := setJSON(p, "add_eos_token", s.AddEOSToken); err != nil {
		return err
	}

	if s.PadWithEOS {
		eos, err := specialToken(p, "eos_token")
		if err != nil {
			return fmt.Errorf("eos_token: %s", err)
		}
		if eos == nil {
			// Older tokenizers only list special tokens in the special tokens map.
			if eos, err = specialToken(stm, "eos_token"); err != nil {
				return fmt.Errorf("%s: eos_token: %s", specialTokensMapFilename, err)
			}
			if eos == nil {
				return fmt.Errorf("no eos_token in %s or %s", configFilename, specialTokensMapFilename)
			}
			p["eos_token"] = eos
		}
		p["pad_token"] = eos
		stm["pad_token"] = eos
		if cur, err := specialToken(stm, "eos_token"); err != nil || cur == nil {
			stm["eos_token"] = eos
		}
	}

	if err := writeJSON(filepath.Join(dir, configFilename), p); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, specialTokensMapFilename), stm); err != nil {
		return err
	}
	return nil
}

// Load reads the effective tokenizer configuration in dir.
func Load(dir string) (*Config, error) {
	p, err := readJSON(filepath.Join(dir, configFilename))
	if err != nil {
		return nil, err
	}

	var c Config
	if b, ok := p["model_max_length"]; ok {
		// Tokenizers without a limit store a huge float (1e30).
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("model_max_length: %s", err)
		}
		if f <= float64(int(^uint(0)>>1)) {
			c.ModelMaxLength = int(f)
		} else {
			c.ModelMaxLength = -1
		}
	}
	if b, ok := p["padding_side"]; ok {
		if err := json.Unmarshal(b, &c.PaddingSide); err != nil {
			return nil, fmt.Errorf("padding_side: %s", err)
		}
	}
	if b, ok := p["add_eos_token"]; ok {
		if err := json.Unmarshal(b, &c.AddEOSToken); err != nil {
			return nil, fmt.Errorf("add_eos_token: %s", err)
		}
	}
	if b, ok := p["eos_token"]; ok {
		if c.EOSToken, err = tokenContent(b); err != nil {
			return nil, fmt.Errorf("eos_token: %s", err)
		}
	}
	if b, ok := p["pad_token"]; ok {
		if c.PadToken, err = tokenContent(b); err != nil {
			return nil, fmt.Errorf("pad_token: %s", err)
		}
	}
	return &c, nil
}

// Verify returns an error if the configuration does not match the settings.
func Verify(c *Config, s Settings) error {
	if c.ModelMaxLength != s.ModelMaxLength {
		return fmt.Errorf("model_max_length is %d, want %d", c.ModelMaxLength, s.ModelMaxLength)
	}
	if c.PaddingSide != s.PaddingSide {
		return fmt.Errorf("padding_side is %q, want %q", c.PaddingSide, s.PaddingSide)
	}
	if c.AddEOSToken != s.AddEOSToken {
		return fmt.Errorf("add_eos_token is %t, want %t", c.AddEOSToken, s.AddEOSToken)
	}
	if s.PadWithEOS {
		if c.EOSToken == "" {
			return fmt.Errorf("eos_token is not set")
		}
		if c.PadToken != c.EOSToken {
			return fmt.Errorf("pad_token is %q, want eos_token %q", c.PadToken, c.EOSToken)
		}
	}
	return nil
}

// specialToken returns the raw special token stored under key. It returns nil if the key is
// missing, null or empty.
func specialToken(m map[string]json.RawMessage, key string) (json.RawMessage, error) {
	b, ok := m[key]
	if !ok {
		return nil, nil
	}
	content, err := tokenContent(b)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, nil
	}
	return b, nil
}

// tokenContent returns the content of a special token stored either as a string or as an
// added token object ({"content": "</s>", ...}).
func tokenContent(b json.RawMessage) (string, error) {
	var content string
	if err := json.Unmarshal(b, &content); err == nil {
		return content, nil
	}
	var mm map[string]any
	if err := json.Unmarshal(b, &mm); err != nil {
		return "", fmt.Errorf("expected a string or an object: %s", err)
	}
	content, ok := mm["content"].(string)
	if !ok {
		return "", fmt.Errorf("no content in %s", string(b))
	}
	return content, nil
}

func readJSON(path string) (map[string]json.RawMessage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p map[string]json.RawMessage
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %s", filepath.Base(path), err)
	}
	if p == nil {
		p = map[string]json.RawMessage{}
	}
	return p, nil
}

func setJSON(p map[string]json.RawMessage, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %s", key, err)
	}
	p[key] = b
	return nil
}

func writeJSON(path string, p map[string]json.RawMessage) error {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %s", filepath.Base(path), err)
	}
	return renameio.WriteFile(path, append(b, '\n'), 0644)
}
