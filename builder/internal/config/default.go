package config

const (
	// DefaultModelPath is the directory where the base model is cached in the image.
	DefaultModelPath = "/model"

	// DefaultConfigPath is where the configuration is copied to in the image.
	DefaultConfigPath = "/etc/fine-tuning-env/config.yaml"

	defaultBaseImage = "mambaorg/micromamba:1.5.1"
)

// Default returns the default configuration. It fine-tunes Mistral 7B with
// the packages pinned as of 2023-11-01.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:      "example-mistral-7b-finetune",
			Namespace: "default",
		},
		BaseModel: BaseModelConfig{
			ID:       "mistralai/Mistral-7B-v0.1",
			Path:     DefaultModelPath,
			Revision: "main",
			Source:   ModelSourceHuggingFace,
		},
		Tokenizer: TokenizerConfig{
			ModelMaxLength: 512,
			PaddingSide:    "left",
			AddEOSToken:    true,
			PadWithEOS:     true,
		},
		Image: ImageConfig{
			BaseImage:     defaultBaseImage,
			PythonVersion: "3.10",
			Steps: []StepConfig{
				{
					Kind: StepKindMicromambaInstall,
					Packages: []string{
						"cudatoolkit=11.8",
						"cudnn=8.1.0",
						"cuda-nvcc",
					},
					Channels: []string{"conda-forge", "nvidia"},
				},
				{
					Kind:     StepKindAptInstall,
					Packages: []string{"git"},
				},
				{
					Kind: StepKindPipInstall,
					Packages: []string{
						"bitsandbytes==0.41.1",
						"peft==0.6.0",
						"transformers==4.35.0",
						"accelerate==0.24.1",
						"datasets==2.14.6",
						"scipy==1.11.3",
						"wandb==0.15.12",
						// Needed for the samsum dataset.
						"py7zr",
					},
				},
				{
					Kind:     StepKindPipInstall,
					Packages: []string{"torch==2.0.1+cu118"},
					IndexURL: "https://download.pytorch.org/whl/cu118",
				},
				{
					Kind:     StepKindRunFunction,
					Function: FunctionDownloadModel,
				},
			},
		},
		Volumes: []VolumeConfig{
			{
				Name:       "training-data-vol",
				MountPath:  "/training_data",
				Size:       "10Gi",
				AccessMode: "ReadWriteOnce",
			},
			{
				Name:       "results-vol",
				MountPath:  "/results",
				Size:       "100Gi",
				AccessMode: "ReadWriteOnce",
			},
		},
		HuggingFace: HuggingFaceConfig{
			Endpoint:               "https://huggingface.co",
			TokenEnv:               "HF_TOKEN",
			MaxConcurrentDownloads: 4,
		},
		Job: JobConfig{
			ImagePullPolicy: "IfNotPresent",
			GPU: GPUConfig{
				ResourceName: "nvidia.com/gpu",
				Count:        1,
			},
		},
	}
}
