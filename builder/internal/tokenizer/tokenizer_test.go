package tokenizer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	testutil "github.com/llmariner/fine-tuning-env/common/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultSettings = Settings{
	ModelMaxLength: 512,
	PaddingSide:    "left",
	AddEOSToken:    true,
	PadWithEOS:     true,
}

// mistralTokenizerConfig is an excerpt of the tokenizer config of Mistral 7B.
const mistralTokenizerConfig = `{
  "add_bos_token": true,
  "add_eos_token": false,
  "bos_token": "<s>",
  "clean_up_tokenization_spaces": false,
  "eos_token": "</s>",
  "legacy": true,
  "model_max_length": 1000000000000000019884624838656,
  "pad_token": null,
  "sp_model_kwargs": {},
  "spaces_between_special_tokens": false,
  "tokenizer_class": "LlamaTokenizer",
  "unk_token": "<unk>",
  "use_default_system_prompt": true
}`

const mistralSpecialTokensMap = `{
  "bos_token": "<s>",
  "eos_token": "</s>",
  "unk_token": "<unk>"
}`

func writeFiles(t *testing.T, files map[string]string) string {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, files)
	return dir
}

func TestFinalize(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		configFilename:           mistralTokenizerConfig,
		specialTokensMapFilename: mistralSpecialTokensMap,
	})

	before, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, -1, before.ModelMaxLength)
	assert.Error(t, Verify(before, defaultSettings))

	err = Finalize(dir, defaultSettings)
	require.NoError(t, err)

	got, err := Load(dir)
	require.NoError(t, err)
	want := &Config{
		ModelMaxLength: 512,
		PaddingSide:    "left",
		AddEOSToken:    true,
		EOSToken:       "</s>",
		PadToken:       "</s>",
	}
	assert.Equal(t, want, got)
	assert.NoError(t, Verify(got, defaultSettings))

	// Other keys are preserved.
	b, err := os.ReadFile(filepath.Join(dir, configFilename))
	require.NoError(t, err)
	var p map[string]any
	require.NoError(t, json.Unmarshal(b, &p))
	assert.Equal(t, "LlamaTokenizer", p["tokenizer_class"])
	assert.Equal(t, true, p["add_bos_token"])

	b, err = os.ReadFile(filepath.Join(dir, specialTokensMapFilename))
	require.NoError(t, err)
	var stm map[string]string
	require.NoError(t, json.Unmarshal(b, &stm))
	assert.Equal(t, "</s>", stm["pad_token"])
	assert.Equal(t, "<unk>", stm["unk_token"])

	// Finalizing again is a no-op.
	require.NoError(t, Finalize(dir, defaultSettings))
	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestFinalizeAddedTokenObject(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		configFilename: `{
  "eos_token": {"__type": "AddedToken", "content": "<|endoftext|>", "lstrip": false},
  "model_max_length": 2048
}`,
	})

	require.NoError(t, Finalize(dir, defaultSettings))
	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "<|endoftext|>", got.EOSToken)
	assert.Equal(t, "<|endoftext|>", got.PadToken)
	assert.NoError(t, Verify(got, defaultSettings))

	// The special tokens map is created.
	_, err = os.Stat(filepath.Join(dir, specialTokensMapFilename))
	assert.NoError(t, err)
}

func TestFinalizeEOSFromSpecialTokensMap(t *testing.T) {
	tcs := []struct {
		name   string
		config string
	}{
		{
			name:   "missing",
			config: `{"model_max_length": 4096}`,
		},
		{
			name:   "null",
			config: `{"model_max_length": 4096, "eos_token": null, "pad_token": null}`,
		},
		{
			name:   "empty",
			config: `{"model_max_length": 4096, "eos_token": ""}`,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeFiles(t, map[string]string{
				configFilename:           tc.config,
				specialTokensMapFilename: mistralSpecialTokensMap,
			})
			require.NoError(t, Finalize(dir, defaultSettings))
			got, err := Load(dir)
			require.NoError(t, err)
			assert.Equal(t, "</s>", got.EOSToken)
			assert.Equal(t, "</s>", got.PadToken)
			assert.NoError(t, Verify(got, defaultSettings))
		})
	}
}

func TestFinalizeErrors(t *testing.T) {
	tcs := []struct {
		name  string
		files map[string]string
	}{
		{
			name:  "no tokenizer config",
			files: map[string]string{},
		},
		{
			name: "no eos token",
			files: map[string]string{
				configFilename: `{"bos_token": "<s>"}`,
			},
		},
		{
			name: "invalid eos token",
			files: map[string]string{
				configFilename: `{"eos_token": 2}`,
			},
		},
		{
			name: "null eos token without special tokens map",
			files: map[string]string{
				configFilename: `{"eos_token": null}`,
			},
		},
		{
			name: "invalid json",
			files: map[string]string{
				configFilename: `{`,
			},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeFiles(t, tc.files)
			assert.Error(t, Finalize(dir, defaultSettings))
		})
	}
}

func TestVerify(t *testing.T) {
	good := Config{
		ModelMaxLength: 512,
		PaddingSide:    "left",
		AddEOSToken:    true,
		EOSToken:       "</s>",
		PadToken:       "</s>",
	}
	assert.NoError(t, Verify(&good, defaultSettings))

	tcs := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "max length", mutate: func(c *Config) { c.ModelMaxLength = 1024 }},
		{name: "padding side", mutate: func(c *Config) { c.PaddingSide = "right" }},
		{name: "add eos", mutate: func(c *Config) { c.AddEOSToken = false }},
		{name: "pad token", mutate: func(c *Config) { c.PadToken = "<unk>" }},
		{name: "no eos token", mutate: func(c *Config) { c.EOSToken, c.PadToken = "", "" }},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			c := good
			tc.mutate(&c)
			assert.Error(t, Verify(&c, defaultSettings))
		})
	}
}
