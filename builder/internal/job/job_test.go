package job

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/llmariner/fine-tuning-env/builder/internal/config"
	"github.com/llmariner/fine-tuning-env/builder/internal/image"
	testutil "github.com/llmariner/fine-tuning-env/common/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"
)

func newTestConfig() *config.Config {
	c := config.Default()
	c.App.Namespace = "ns"
	c.Job.Image = "registry.example.com/finetune:v1"
	c.Job.Command = []string{"python"}
	c.Job.Args = []string{"train.py"}
	c.Job.NodeSelector = map[string]string{"gpu": "a100"}
	c.Job.Tolerations = []config.TolerationConfig{
		{Key: "nvidia.com/gpu", Operator: "Exists", Effect: "NoSchedule"},
	}
	return c
}

func newTestJob(t *testing.T, c *config.Config) *Job {
	r, err := image.New(c, nil)
	require.NoError(t, err)
	j, err := New(c, r)
	require.NoError(t, err)
	return j
}

func TestNew(t *testing.T) {
	tcs := []struct {
		name    string
		mod     func(c *config.Config)
		wantErr bool
	}{
		{
			name: "valid",
			mod:  func(c *config.Config) {},
		},
		{
			name: "no image",
			mod: func(c *config.Config) {
				c.Job.Image = ""
			},
			wantErr: true,
		},
		{
			name: "volume under the model path",
			mod: func(c *config.Config) {
				c.Volumes[0].MountPath = "/model/data"
			},
			wantErr: true,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestConfig()
			tc.mod(c)
			r, err := image.New(c, nil)
			require.NoError(t, err)
			_, err = New(c, r)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestApplyConfig(t *testing.T) {
	j := newTestJob(t, newTestConfig())

	var job batchv1.Job
	err := toJob(j, &job)
	require.NoError(t, err)

	assert.Equal(t, "example-mistral-7b-finetune", job.Name)
	assert.Equal(t, "ns", job.Namespace)
	assert.Equal(t, Labels(job.Name), job.Spec.Template.Labels)
	assert.Equal(t, corev1.RestartPolicyNever, job.Spec.Template.Spec.RestartPolicy)
	assert.Equal(t, map[string]string{"gpu": "a100"}, job.Spec.Template.Spec.NodeSelector)
	require.Len(t, job.Spec.Template.Spec.Tolerations, 1)
	assert.Equal(t, corev1.TolerationOpExists, job.Spec.Template.Spec.Tolerations[0].Operator)

	wantContainer := corev1.Container{
		Name:            containerName,
		Image:           "registry.example.com/finetune:v1",
		ImagePullPolicy: corev1.PullIfNotPresent,
		Command:         []string{"python"},
		Args:            []string{"train.py"},
		Env: []corev1.EnvVar{
			{Name: "MODEL_PATH", Value: "/model"},
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: "training-data-vol", MountPath: "/training_data"},
			{Name: "results-vol", MountPath: "/results"},
		},
		Resources: corev1.ResourceRequirements{
			Limits: corev1.ResourceList{
				"nvidia.com/gpu": resource.MustParse("1"),
			},
		},
	}
	require.Len(t, job.Spec.Template.Spec.Containers, 1)
	got := job.Spec.Template.Spec.Containers[0]
	if diff := cmp.Diff(wantContainer, got, cmp.Comparer(func(a, b resource.Quantity) bool {
		return a.Cmp(b) == 0
	})); diff != "" {
		t.Errorf("container mismatch (-want +got):\n%s", diff)
	}

	wantVolumes := []corev1.Volume{
		{
			Name: "training-data-vol",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: "training-data-vol"},
			},
		},
		{
			Name: "results-vol",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: "results-vol"},
			},
		},
	}
	if diff := cmp.Diff(wantVolumes, job.Spec.Template.Spec.Volumes); diff != "" {
		t.Errorf("volumes mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyConfigBackoffLimit(t *testing.T) {
	var job batchv1.Job
	require.NoError(t, toJob(newTestJob(t, newTestConfig()), &job))
	// Unset so that the Kubernetes default applies.
	assert.Nil(t, job.Spec.BackoffLimit)

	c := newTestConfig()
	c.Job.BackoffLimit = ptr.To[int32](0)
	job = batchv1.Job{}
	require.NoError(t, toJob(newTestJob(t, c), &job))
	require.NotNil(t, job.Spec.BackoffLimit)
	assert.Equal(t, int32(0), *job.Spec.BackoffLimit)
}

func TestApplyConfigWithoutGPU(t *testing.T) {
	c := newTestConfig()
	c.Job.GPU.Count = 0
	j := newTestJob(t, c)

	var job batchv1.Job
	require.NoError(t, toJob(j, &job))
	assert.Empty(t, job.Spec.Template.Spec.Containers[0].Resources.Limits)
}

func TestRender(t *testing.T) {
	j := newTestJob(t, newTestConfig())
	b, err := j.Render()
	require.NoError(t, err)

	docs := strings.Split(string(b), "---\n")
	require.Len(t, docs, 3)

	var kinds []string
	for _, d := range docs {
		var obj metav1.PartialObjectMetadata
		require.NoError(t, yaml.Unmarshal([]byte(d), &obj))
		kinds = append(kinds, obj.Kind+"/"+obj.Name)
	}
	want := []string{
		"PersistentVolumeClaim/training-data-vol",
		"PersistentVolumeClaim/results-vol",
		"Job/example-mistral-7b-finetune",
	}
	assert.Equal(t, want, kinds)

	var job batchv1.Job
	require.NoError(t, yaml.Unmarshal([]byte(docs[2]), &job))
	assert.Equal(t, "registry.example.com/finetune:v1", job.Spec.Template.Spec.Containers[0].Image)
}

func TestDeploy(t *testing.T) {
	c := newTestConfig()
	j := newTestJob(t, c)
	k8sClient := testutil.NewFakeClient()
	ctx := testutil.ContextWithLogger(t)

	job, err := j.Deploy(ctx, k8sClient, false)
	require.NoError(t, err)
	assert.Equal(t, c.Job.Image, job.Spec.Template.Spec.Containers[0].Image)

	for _, v := range j.Volumes() {
		var pvc corev1.PersistentVolumeClaim
		err := k8sClient.Get(ctx, types.NamespacedName{Name: v.Name, Namespace: "ns"}, &pvc)
		assert.NoError(t, err)
	}

	// Deploying again keeps the existing job.
	c.Job.Image = "registry.example.com/finetune:v2"
	j = newTestJob(t, c)
	job, err = j.Deploy(ctx, k8sClient, false)
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/finetune:v1", job.Spec.Template.Spec.Containers[0].Image)

	st, err := j.Status(ctx, k8sClient)
	require.NoError(t, err)
	assert.NotNil(t, st)
}

func TestStatusNotFound(t *testing.T) {
	j := newTestJob(t, newTestConfig())
	st, err := j.Status(testutil.ContextWithLogger(t), testutil.NewFakeClient())
	assert.NoError(t, err)
	assert.Nil(t, st)
}

func toJob(j *Job, job *batchv1.Job) error {
	b, err := yaml.Marshal(j.ApplyConfig())
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, job)
}
