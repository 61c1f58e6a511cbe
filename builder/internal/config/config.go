package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/llmariner/fine-tuning-env/builder/internal/pkgspec"
	"gopkg.in/yaml.v3"
)

// AppConfig is the configuration of the fine-tuning application.
type AppConfig struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
}

func (c *AppConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("name must be set")
	}
	return nil
}

// ModelSource is the location the base model is fetched from.
type ModelSource string

const (
	// ModelSourceHuggingFace fetches the model from the Hugging Face Hub.
	ModelSourceHuggingFace ModelSource = "huggingFace"
	// ModelSourceS3 fetches the model from an S3 mirror.
	ModelSourceS3 ModelSource = "s3"
)

// BaseModelConfig is the configuration of the pretrained model baked into the image.
type BaseModelConfig struct {
	// ID is the model identifier (e.g., "mistralai/Mistral-7B-v0.1").
	ID string `yaml:"id"`
	// Path is the directory in the image where the weights and the tokenizer are cached.
	Path     string      `yaml:"path"`
	Revision string      `yaml:"revision"`
	Source   ModelSource `yaml:"source"`
	// S3Path is the object key prefix of the model files. Used only when the source is S3.
	S3Path string `yaml:"s3Path"`
}

func (c *BaseModelConfig) validate() error {
	if c.ID == "" {
		return fmt.Errorf("id must be set")
	}
	if strings.Count(c.ID, "/") != 1 || strings.HasPrefix(c.ID, "/") || strings.HasSuffix(c.ID, "/") {
		return fmt.Errorf("id %q must be in the form of <org>/<name>", c.ID)
	}
	if !filepath.IsAbs(c.Path) {
		return fmt.Errorf("path %q must be absolute", c.Path)
	}
	if c.Path == "/" {
		return fmt.Errorf("path must not be the root directory")
	}
	switch c.Source {
	case ModelSourceHuggingFace:
		if c.Revision == "" {
			return fmt.Errorf("revision must be set")
		}
	case ModelSourceS3:
		if c.S3Path == "" {
			return fmt.Errorf("s3Path must be set when the source is s3")
		}
	default:
		return fmt.Errorf("unsupported source: %q", c.Source)
	}
	return nil
}

// TokenizerConfig is the tokenizer configuration saved next to the model weights.
type TokenizerConfig struct {
	ModelMaxLength int    `yaml:"modelMaxLength"`
	PaddingSide    string `yaml:"paddingSide"`
	AddEOSToken    bool   `yaml:"addEosToken"`
	// PadWithEOS aliases the pad token to the end-of-sequence token.
	PadWithEOS bool `yaml:"padWithEos"`
}

func (c *TokenizerConfig) validate() error {
	if c.ModelMaxLength <= 0 {
		return fmt.Errorf("modelMaxLength must be greater than 0")
	}
	if c.PaddingSide != "left" && c.PaddingSide != "right" {
		return fmt.Errorf("paddingSide must be either left or right: %q", c.PaddingSide)
	}
	return nil
}

// StepKind is the kind of an image build step.
type StepKind string

const (
	// StepKindMicromambaInstall installs conda packages with micromamba.
	StepKindMicromambaInstall StepKind = "micromambaInstall"
	// StepKindAptInstall installs Debian packages.
	StepKindAptInstall StepKind = "aptInstall"
	// StepKindPipInstall installs Python packages.
	StepKindPipInstall StepKind = "pipInstall"
	// StepKindRunFunction runs a builder function while the image is built.
	StepKindRunFunction StepKind = "runFunction"
)

// FunctionDownloadModel is the only function that can run as a build step.
const FunctionDownloadModel = "download-model"

// Ecosystem returns the package ecosystem the step installs from.
func (k StepKind) Ecosystem() (pkgspec.Ecosystem, bool) {
	switch k {
	case StepKindMicromambaInstall:
		return pkgspec.Conda, true
	case StepKindAptInstall:
		return pkgspec.Apt, true
	case StepKindPipInstall:
		return pkgspec.Pip, true
	default:
		return "", false
	}
}

// StepConfig is a single image build step.
type StepConfig struct {
	Kind     StepKind `yaml:"kind"`
	Packages []string `yaml:"packages,omitempty"`
	// Channels are the conda channels. Used only by micromambaInstall.
	Channels []string `yaml:"channels,omitempty"`
	// IndexURL overrides the package index. Used only by pipInstall.
	IndexURL string `yaml:"indexUrl,omitempty"`
	// Function is the function to run. Used only by runFunction.
	Function string `yaml:"function,omitempty"`
}

func (c *StepConfig) validate() error {
	switch c.Kind {
	case StepKindMicromambaInstall, StepKindAptInstall, StepKindPipInstall:
		if len(c.Packages) == 0 {
			return fmt.Errorf("packages must be set for %s", c.Kind)
		}
		if c.Kind != StepKindMicromambaInstall && len(c.Channels) > 0 {
			return fmt.Errorf("channels are only supported by %s", StepKindMicromambaInstall)
		}
		if c.Kind != StepKindPipInstall && c.IndexURL != "" {
			return fmt.Errorf("indexUrl is only supported by %s", StepKindPipInstall)
		}
	case StepKindRunFunction:
		if c.Function != FunctionDownloadModel {
			return fmt.Errorf("unsupported function: %q", c.Function)
		}
	default:
		return fmt.Errorf("unsupported step kind: %q", c.Kind)
	}
	return nil
}

// ImageConfig is the configuration of the container image.
type ImageConfig struct {
	BaseImage     string       `yaml:"baseImage"`
	PythonVersion string       `yaml:"pythonVersion"`
	Steps         []StepConfig `yaml:"steps"`
}

// PackageSpecs returns all the package specifiers declared by the steps.
func (c *ImageConfig) PackageSpecs() ([]pkgspec.Spec, error) {
	var specs []pkgspec.Spec
	for _, s := range c.Steps {
		eco, ok := s.Kind.Ecosystem()
		if !ok {
			continue
		}
		for _, p := range s.Packages {
			spec, err := pkgspec.Parse(eco, p)
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

func (c *ImageConfig) validate() error {
	if c.BaseImage == "" {
		return fmt.Errorf("baseImage must be set")
	}
	if c.PythonVersion == "" {
		return fmt.Errorf("pythonVersion must be set")
	}
	if len(c.Steps) == 0 {
		return fmt.Errorf("steps must be set")
	}
	var numRun int
	for i, s := range c.Steps {
		if err := s.validate(); err != nil {
			return fmt.Errorf("step %d: %s", i, err)
		}
		if s.Kind == StepKindRunFunction {
			numRun++
		}
	}
	if numRun != 1 {
		return fmt.Errorf("exactly one %s step must be set, got %d", StepKindRunFunction, numRun)
	}
	if last := c.Steps[len(c.Steps)-1]; last.Kind != StepKindRunFunction {
		return fmt.Errorf("the %s step must be the last step", StepKindRunFunction)
	}

	specs, err := c.PackageSpecs()
	if err != nil {
		return err
	}
	if err := pkgspec.CheckConflicts(specs); err != nil {
		return err
	}
	return nil
}

// VolumeConfig is the configuration of a persistent volume.
type VolumeConfig struct {
	Name      string `yaml:"name"`
	MountPath string `yaml:"mountPath"`

	Size             string `yaml:"size"`
	StorageClassName string `yaml:"storageClassName"`
	AccessMode       string `yaml:"accessMode"`
}

// HuggingFaceConfig is the configuration of the Hugging Face Hub.
type HuggingFaceConfig struct {
	Endpoint string `yaml:"endpoint"`
	// TokenEnv is the name of the environment variable holding the access token.
	TokenEnv               string `yaml:"tokenEnv"`
	MaxConcurrentDownloads int    `yaml:"maxConcurrentDownloads"`
}

func (c *HuggingFaceConfig) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint must be set")
	}
	if c.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("maxConcurrentDownloads must be greater than 0")
	}
	return nil
}

// AssumeRoleConfig is the assume role configuration.
type AssumeRoleConfig struct {
	RoleARN    string `yaml:"roleArn"`
	ExternalID string `yaml:"externalId"`
}

// S3Config is the S3 configuration.
type S3Config struct {
	EndpointURL string `yaml:"endpointUrl"`
	Region      string `yaml:"region"`
	Bucket      string `yaml:"bucket"`

	AssumeRole *AssumeRoleConfig `yaml:"assumeRole,omitempty"`
}

// ObjectStoreConfig is the object store configuration.
type ObjectStoreConfig struct {
	S3 S3Config `yaml:"s3"`
}

// Validate validates the object store configuration.
func (c *ObjectStoreConfig) Validate() error {
	if c.S3.Region == "" {
		return fmt.Errorf("s3 region must be set")
	}
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3 bucket must be set")
	}
	if ar := c.S3.AssumeRole; ar != nil && ar.RoleARN == "" {
		return fmt.Errorf("s3 assumeRole roleArn must be set")
	}
	return nil
}

// GPUConfig is the GPU configuration of the fine-tuning job.
type GPUConfig struct {
	ResourceName string `yaml:"resourceName"`
	Count        int    `yaml:"count"`
}

// TolerationConfig is the toleration configuration.
type TolerationConfig struct {
	Key               string `yaml:"key"`
	Operator          string `yaml:"operator"`
	Value             string `yaml:"value"`
	Effect            string `yaml:"effect"`
	TolerationSeconds int64  `yaml:"tolerationSeconds"`
}

// JobConfig is the configuration of the fine-tuning job.
type JobConfig struct {
	// Image is the reference of the image built from the recipe. It is only known once the
	// image is built, so it is required by the deployment commands only.
	Image           string   `yaml:"image"`
	ImagePullPolicy string   `yaml:"imagePullPolicy"`
	Command         []string `yaml:"command,omitempty"`
	Args            []string `yaml:"args,omitempty"`

	GPU GPUConfig `yaml:"gpu"`

	// BackoffLimit is the number of retries of the job. The Kubernetes default applies when unset.
	BackoffLimit *int32 `yaml:"backoffLimit,omitempty"`

	NodeSelector map[string]string  `yaml:"nodeSelector,omitempty"`
	Tolerations  []TolerationConfig `yaml:"tolerations,omitempty"`
}

func (c *JobConfig) validate() error {
	if c.GPU.Count < 0 {
		return fmt.Errorf("gpu count must not be negative")
	}
	if c.GPU.Count > 0 && c.GPU.ResourceName == "" {
		return fmt.Errorf("gpu resourceName must be set")
	}
	if c.BackoffLimit != nil && *c.BackoffLimit < 0 {
		return fmt.Errorf("backoffLimit must not be negative")
	}
	return nil
}

// Config is the configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	BaseModel BaseModelConfig `yaml:"baseModel"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Image     ImageConfig     `yaml:"image"`
	Volumes   []VolumeConfig  `yaml:"volumes"`

	HuggingFace HuggingFaceConfig `yaml:"huggingFace"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`

	Job JobConfig `yaml:"job"`
}

// Validate validates the configuration. Volume mappings are validated by the volume package.
func (c *Config) Validate() error {
	if err := c.App.validate(); err != nil {
		return fmt.Errorf("app: %s", err)
	}
	if err := c.BaseModel.validate(); err != nil {
		return fmt.Errorf("baseModel: %s", err)
	}
	if err := c.Tokenizer.validate(); err != nil {
		return fmt.Errorf("tokenizer: %s", err)
	}
	if err := c.Image.validate(); err != nil {
		return fmt.Errorf("image: %s", err)
	}

	switch c.BaseModel.Source {
	case ModelSourceHuggingFace:
		if err := c.HuggingFace.validate(); err != nil {
			return fmt.Errorf("huggingFace: %s", err)
		}
	case ModelSourceS3:
		if err := c.ObjectStore.Validate(); err != nil {
			return fmt.Errorf("objectStore: %s", err)
		}
	}

	if err := c.Job.validate(); err != nil {
		return fmt.Errorf("job: %s", err)
	}
	return nil
}

// ValidateDeployment validates the settings required to deploy the fine-tuning job on top of
// Validate.
func (c *Config) ValidateDeployment() error {
	if c.Job.Image == "" {
		return fmt.Errorf("job: image must be set to deploy the job")
	}
	return nil
}

// Parse parses the configuration file at the given path, returning a new
// Config struct. Fields that are not set in the file keep their default values.
func Parse(path string) (*Config, error) {
	config := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %s", err)
	}

	if err = yaml.Unmarshal(b, config); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %s", err)
	}
	return config, nil
}

// Marshal returns the YAML encoding of the configuration.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
