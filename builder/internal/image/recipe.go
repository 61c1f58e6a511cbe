package image

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/llmariner/fine-tuning-env/builder/internal/config"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	// BinaryPath is where the builder binary is copied to in the image.
	BinaryPath = "/usr/local/bin/builder"

	// LabelBaseModel is the label key for the base model baked into the image.
	LabelBaseModel = "fine-tuning-env.llmariner.ai/base-model"
	// LabelModelPath is the label key for the directory of the base model.
	LabelModelPath = "fine-tuning-env.llmariner.ai/model-path"
	// LabelRecipeDigest is the label key for the digest of the recipe.
	LabelRecipeDigest = "fine-tuning-env.llmariner.ai/recipe-digest"

	// EnvModelPath is the environment variable pointing at the directory of the base model.
	EnvModelPath = "MODEL_PATH"

	binaryFilename = "builder"
	configFilename = "config.yaml"
)

var safeArgRE = regexp.MustCompile(`^[A-Za-z0-9._+=:/@,-]+$`)

// Step is a step of the recipe rendered as Dockerfile instructions.
type Step struct {
	Kind         config.StepKind
	Instructions []string
	// Digest identifies the step and all the steps before it.
	Digest digest.Digest
}

// Recipe is the recipe of the container image.
type Recipe struct {
	appName   string
	baseImage string
	modelID   string
	modelPath string

	preamble []string
	steps    []Step
}

// New builds the recipe of the image from the configuration. configYAML is the configuration
// copied into the image; its digest is part of the digest of the download step so that a
// configuration change invalidates the cached model.
func New(c *config.Config, configYAML []byte) (*Recipe, error) {
	r := &Recipe{
		appName:   c.App.Name,
		baseImage: c.Image.BaseImage,
		modelID:   c.BaseModel.ID,
		modelPath: c.BaseModel.Path,
	}

	r.preamble = []string{
		"USER root",
		"ARG MAMBA_DOCKERFILE_ACTIVATE=1",
		"RUN " + join("micromamba", "install", "-y", "-n", "base", "-c", "conda-forge",
			"python="+c.Image.PythonVersion, "pip") +
			" && micromamba clean --all --yes",
	}

	prev := digest.FromString(strings.Join(append([]string{"FROM " + r.baseImage}, r.preamble...), "\n"))
	for i, sc := range c.Image.Steps {
		insts, err := instructions(sc, c, configYAML)
		if err != nil {
			return nil, fmt.Errorf("step %d: %s", i, err)
		}
		d := digest.FromString(prev.String() + "\n" + strings.Join(insts, "\n"))
		r.steps = append(r.steps, Step{
			Kind:         sc.Kind,
			Instructions: insts,
			Digest:       d,
		})
		prev = d
	}
	return r, nil
}

func instructions(sc config.StepConfig, c *config.Config, configYAML []byte) ([]string, error) {
	switch sc.Kind {
	case config.StepKindMicromambaInstall:
		args := []string{"micromamba", "install", "-y", "-n", "base"}
		for _, ch := range sc.Channels {
			args = append(args, "-c", ch)
		}
		args = append(args, sc.Packages...)
		return []string{"RUN " + join(args...) + " && micromamba clean --all --yes"}, nil
	case config.StepKindAptInstall:
		args := append([]string{"apt-get", "install", "-y", "--no-install-recommends"}, sc.Packages...)
		return []string{
			"RUN apt-get update && " + join(args...) + " && rm -rf /var/lib/apt/lists/*",
		}, nil
	case config.StepKindPipInstall:
		args := []string{"pip", "install", "--no-cache-dir"}
		if sc.IndexURL != "" {
			args = append(args, "--index-url", sc.IndexURL)
		}
		args = append(args, sc.Packages...)
		return []string{"RUN " + join(args...)}, nil
	case config.StepKindRunFunction:
		if sc.Function != config.FunctionDownloadModel {
			return nil, fmt.Errorf("unsupported function: %q", sc.Function)
		}
		return []string{
			fmt.Sprintf("COPY %s %s", binaryFilename, BinaryPath),
			fmt.Sprintf("COPY %s %s", configFilename, config.DefaultConfigPath),
			fmt.Sprintf("# config digest: %s", digest.FromBytes(configYAML)),
			"RUN " + secretMounts(c) + join(BinaryPath, "download", "--config", config.DefaultConfigPath),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported step kind: %q", sc.Kind)
	}
}

// secretMounts returns the BuildKit secret mounts that expose the credentials of the model
// source to the download step only, so they are never stored in a layer.
func secretMounts(c *config.Config) string {
	switch c.BaseModel.Source {
	case config.ModelSourceHuggingFace:
		if env := c.HuggingFace.TokenEnv; env != "" {
			return fmt.Sprintf("--mount=type=secret,id=%s,env=%s,required=false ", strings.ToLower(env), env)
		}
	case config.ModelSourceS3:
		return "--mount=type=secret,id=aws,target=/root/.aws/credentials,required=false "
	}
	return ""
}

// Steps returns the steps of the recipe.
func (r *Recipe) Steps() []Step {
	return r.steps
}

// Digest returns the digest of the whole recipe.
func (r *Recipe) Digest() digest.Digest {
	if len(r.steps) == 0 {
		return ""
	}
	return r.steps[len(r.steps)-1].Digest
}

// Labels returns the labels of the image.
func (r *Recipe) Labels() map[string]string {
	return map[string]string{
		ocispec.AnnotationTitle: r.appName,
		LabelBaseModel:          r.modelID,
		LabelModelPath:          r.modelPath,
		LabelRecipeDigest:       r.Digest().String(),
	}
}

// ImageConfig returns the OCI image configuration the built image is expected to have.
func (r *Recipe) ImageConfig() ocispec.ImageConfig {
	return ocispec.ImageConfig{
		User:   "root",
		Env:    []string{EnvModelPath + "=" + r.modelPath},
		Labels: r.Labels(),
	}
}

// Dockerfile renders the recipe as a Dockerfile.
func (r *Recipe) Dockerfile() string {
	var b strings.Builder
	// Secret mounts with env= need a recent Dockerfile frontend.
	b.WriteString("# syntax=docker/dockerfile:1.10\n")
	fmt.Fprintf(&b, "FROM %s\n", r.baseImage)
	for _, l := range r.preamble {
		b.WriteString(l + "\n")
	}
	for _, s := range r.steps {
		fmt.Fprintf(&b, "\n# %s (%s)\n", s.Kind, s.Digest.Encoded()[:12])
		for _, l := range s.Instructions {
			b.WriteString(l + "\n")
		}
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "ENV %s=%s\n", EnvModelPath, r.modelPath)

	labels := r.Labels()
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "LABEL %s=%q\n", k, labels[k])
	}
	return b.String()
}

func join(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quote(a)
	}
	return strings.Join(quoted, " ")
}

// quote quotes a shell argument unless it only has safe characters.
func quote(s string) string {
	if safeArgRE.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ContextFiles returns the names of the files the build context must have besides the Dockerfile.
func ContextFiles() []string {
	return []string{binaryFilename, configFilename}
}
