package job

import (
	"context"
	"fmt"

	"github.com/llmariner/fine-tuning-env/builder/internal/config"
	"github.com/llmariner/fine-tuning-env/builder/internal/image"
	"github.com/llmariner/fine-tuning-env/builder/internal/volume"
	"github.com/llmariner/fine-tuning-env/pkg/k8s"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/types"
	batchv1apply "k8s.io/client-go/applyconfigurations/batch/v1"
	corev1apply "k8s.io/client-go/applyconfigurations/core/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"
)

const (
	containerName = "fine-tune"

	recipeDigestAnnotationKey = "fine-tuning-env/recipe-digest"
)

// Labels returns the labels set on the job and its pods.
func Labels(appName string) map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":       appName,
		"app.kubernetes.io/component":  "fine-tune",
		"app.kubernetes.io/created-by": "fine-tuning-env",
	}
}

// New returns a new Job for the app.
func New(c *config.Config, recipe *image.Recipe) (*Job, error) {
	if err := c.ValidateDeployment(); err != nil {
		return nil, err
	}
	vols, err := volume.FromConfig(c.Volumes)
	if err != nil {
		return nil, err
	}
	if err := volume.ValidateMapping(vols, c.BaseModel.Path); err != nil {
		return nil, err
	}
	return &Job{
		name:         c.App.Name,
		namespace:    c.App.Namespace,
		modelPath:    c.BaseModel.Path,
		recipeDigest: recipe.Digest().String(),
		jconfig:      c.Job,
		vols:         vols,
	}, nil
}

// Job is the Kubernetes job that runs the fine-tuning in the image with the volumes mounted.
type Job struct {
	name         string
	namespace    string
	modelPath    string
	recipeDigest string
	jconfig      config.JobConfig
	vols         []volume.Volume
}

// Volumes returns the persistent volumes mounted by the job.
func (j *Job) Volumes() []volume.Volume {
	return j.vols
}

// ApplyConfig returns the apply configuration of the job.
func (j *Job) ApplyConfig() *batchv1apply.JobApplyConfiguration {
	labels := Labels(j.name)

	var (
		volumes []*corev1apply.VolumeApplyConfiguration
		mounts  []*corev1apply.VolumeMountApplyConfiguration
	)
	for _, v := range j.vols {
		volumes = append(volumes, corev1apply.Volume().
			WithName(v.Name).
			WithPersistentVolumeClaim(corev1apply.PersistentVolumeClaimVolumeSource().
				WithClaimName(v.Name)))
		mounts = append(mounts, corev1apply.VolumeMount().
			WithName(v.Name).
			WithMountPath(v.MountPath))
	}

	container := corev1apply.Container().
		WithName(containerName).
		WithImage(j.jconfig.Image).
		WithEnv(corev1apply.EnvVar().
			WithName(image.EnvModelPath).
			WithValue(j.modelPath)).
		WithVolumeMounts(mounts...)
	if p := j.jconfig.ImagePullPolicy; p != "" {
		container = container.WithImagePullPolicy(corev1.PullPolicy(p))
	}
	if len(j.jconfig.Command) > 0 {
		container = container.WithCommand(j.jconfig.Command...)
	}
	if len(j.jconfig.Args) > 0 {
		container = container.WithArgs(j.jconfig.Args...)
	}
	if gpu := j.jconfig.GPU; gpu.Count > 0 {
		container = container.WithResources(corev1apply.ResourceRequirements().
			WithLimits(corev1.ResourceList{
				corev1.ResourceName(gpu.ResourceName): *resource.NewQuantity(int64(gpu.Count), resource.DecimalSI),
			}))
	}

	podSpec := corev1apply.PodSpec().
		WithRestartPolicy(corev1.RestartPolicyNever).
		WithContainers(container).
		WithVolumes(volumes...)
	if len(j.jconfig.NodeSelector) > 0 {
		podSpec = podSpec.WithNodeSelector(j.jconfig.NodeSelector)
	}
	for _, tc := range j.jconfig.Tolerations {
		t := corev1apply.Toleration()
		if tc.Key != "" {
			t = t.WithKey(tc.Key)
		}
		if tc.Operator != "" {
			t = t.WithOperator(corev1.TolerationOperator(tc.Operator))
		}
		if tc.Value != "" {
			t = t.WithValue(tc.Value)
		}
		if tc.Effect != "" {
			t = t.WithEffect(corev1.TaintEffect(tc.Effect))
		}
		if tc.TolerationSeconds > 0 {
			t = t.WithTolerationSeconds(tc.TolerationSeconds)
		}
		podSpec = podSpec.WithTolerations(t)
	}

	spec := batchv1apply.JobSpec().
		WithTemplate(corev1apply.PodTemplateSpec().
			WithLabels(labels).
			WithSpec(podSpec))
	if bl := j.jconfig.BackoffLimit; bl != nil {
		spec = spec.WithBackoffLimit(*bl)
	}
	return batchv1apply.Job(j.name, j.namespace).
		WithLabels(labels).
		WithAnnotations(map[string]string{recipeDigestAnnotationKey: j.recipeDigest}).
		WithSpec(spec)
}

// Render returns the YAML manifests of the persistent volume claims and the job.
func (j *Job) Render() ([]byte, error) {
	var objs []any
	for _, v := range j.vols {
		objs = append(objs, volume.ClaimApplyConfig(v, j.name, j.namespace))
	}
	objs = append(objs, j.ApplyConfig())

	var out []byte
	for i, obj := range objs {
		b, err := yaml.Marshal(obj)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			out = append(out, []byte("---\n")...)
		}
		out = append(out, b...)
	}
	return out, nil
}

// Deploy creates the persistent volume claims and the job. An existing job is left untouched
// unless update is true, in which case the job is applied with server-side apply.
func (j *Job) Deploy(ctx context.Context, k8sClient client.Client, update bool) (*batchv1.Job, error) {
	log := ctrl.LoggerFrom(ctx).WithValues("job", j.name)

	p := volume.NewProvisioner(k8sClient, j.name, j.namespace)
	if err := p.Ensure(ctx, j.vols); err != nil {
		return nil, fmt.Errorf("ensure volumes: %s", err)
	}

	var cur batchv1.Job
	nn := types.NamespacedName{Name: j.name, Namespace: j.namespace}
	if err := k8sClient.Get(ctx, nn, &cur); err != nil {
		if !apierrors.IsNotFound(err) {
			return nil, err
		}
		var job batchv1.Job
		if err := k8s.FromApplyConfiguration(j.ApplyConfig(), &job); err != nil {
			return nil, err
		}
		if err := k8sClient.Create(ctx, &job); err != nil {
			return nil, fmt.Errorf("create job: %s", err)
		}
		log.Info("Created job", "image", j.jconfig.Image)
		return &job, nil
	}

	if !update {
		log.V(2).Info("Already exists", "RV", cur.ResourceVersion)
		return &cur, nil
	}
	if _, err := k8s.Apply(ctx, k8sClient, j.ApplyConfig()); err != nil {
		return nil, err
	}
	if err := k8sClient.Get(ctx, nn, &cur); err != nil {
		return nil, err
	}
	log.Info("Applied job", "image", j.jconfig.Image)
	return &cur, nil
}

// Status returns the status of the job. It returns nil if the job does not exist.
func (j *Job) Status(ctx context.Context, k8sClient client.Client) (*batchv1.JobStatus, error) {
	var cur batchv1.Job
	nn := types.NamespacedName{Name: j.name, Namespace: j.namespace}
	if err := k8sClient.Get(ctx, nn, &cur); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &cur.Status, nil
}
