package volume

import (
	"context"
	"fmt"

	"github.com/llmariner/fine-tuning-env/pkg/k8s"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	corev1apply "k8s.io/client-go/applyconfigurations/core/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	managerName = "fine-tuning-env"

	// volumeAnnotationKey records the volume name a claim was created for.
	volumeAnnotationKey = "fine-tuning-env/volume"
)

// Labels returns the labels set on the persistent volume claims of the app.
func Labels(appName string) map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":       appName,
		"app.kubernetes.io/component":  "volume",
		"app.kubernetes.io/created-by": managerName,
	}
}

// ClaimApplyConfig returns the persistent volume claim of the volume. The claim has no owner
// so that it outlives the jobs mounting it.
func ClaimApplyConfig(v Volume, appName, namespace string) *corev1apply.PersistentVolumeClaimApplyConfiguration {
	spec := corev1apply.PersistentVolumeClaimSpec().
		WithAccessModes(corev1.PersistentVolumeAccessMode(v.AccessMode)).
		WithResources(corev1apply.
			VolumeResourceRequirements().
			WithRequests(corev1.ResourceList{corev1.ResourceStorage: v.Size}))
	if v.StorageClassName != "" {
		spec = spec.WithStorageClassName(v.StorageClassName)
	}
	return corev1apply.PersistentVolumeClaim(v.Name, namespace).
		WithLabels(Labels(appName)).
		WithAnnotations(map[string]string{volumeAnnotationKey: v.Name}).
		WithSpec(spec)
}

// NewProvisioner returns a new Provisioner.
func NewProvisioner(k8sClient client.Client, appName, namespace string) *Provisioner {
	return &Provisioner{
		k8sClient: k8sClient,
		appName:   appName,
		namespace: namespace,
	}
}

// Provisioner creates persistent volume claims for volumes.
type Provisioner struct {
	k8sClient client.Client
	appName   string
	namespace string
}

// Ensure creates a persistent volume claim for each volume that does not have one yet.
// Existing claims are left untouched so that their data persists across runs.
func (p *Provisioner) Ensure(ctx context.Context, vols []Volume) error {
	log := ctrl.LoggerFrom(ctx)
	for _, v := range vols {
		log := log.WithValues("volume", v.Name)

		var cur corev1.PersistentVolumeClaim
		nn := types.NamespacedName{Name: v.Name, Namespace: p.namespace}
		if err := p.k8sClient.Get(ctx, nn, &cur); err == nil {
			log.V(2).Info("Already exists", "phase", cur.Status.Phase)
			continue
		} else if !apierrors.IsNotFound(err) {
			return fmt.Errorf("get persistent volume claim %q: %s", v.Name, err)
		}

		pvc, err := p.claim(v)
		if err != nil {
			return err
		}
		if err := p.k8sClient.Create(ctx, pvc); err != nil {
			if apierrors.IsAlreadyExists(err) {
				log.V(2).Info("Created concurrently")
				continue
			}
			return fmt.Errorf("create persistent volume claim %q: %s", v.Name, err)
		}
		log.Info("Created persistent volume claim", "size", v.Size.String(), "mountPath", v.MountPath)
	}
	return nil
}

func (p *Provisioner) claim(v Volume) (*corev1.PersistentVolumeClaim, error) {
	var pvc corev1.PersistentVolumeClaim
	if err := k8s.FromApplyConfiguration(ClaimApplyConfig(v, p.appName, p.namespace), &pvc); err != nil {
		return nil, err
	}
	return &pvc, nil
}

// Status returns the phase of the persistent volume claim of each volume. Volumes without a
// claim are reported as an empty phase.
func (p *Provisioner) Status(ctx context.Context, vols []Volume) (map[string]corev1.PersistentVolumeClaimPhase, error) {
	st := map[string]corev1.PersistentVolumeClaimPhase{}
	for _, v := range vols {
		var pvc corev1.PersistentVolumeClaim
		nn := types.NamespacedName{Name: v.Name, Namespace: p.namespace}
		if err := p.k8sClient.Get(ctx, nn, &pvc); err != nil {
			if !apierrors.IsNotFound(err) {
				return nil, err
			}
			st[v.Name] = ""
			continue
		}
		st[v.Name] = pvc.Status.Phase
	}
	return st, nil
}

// ListClaims lists the persistent volume claims created for the app.
func (p *Provisioner) ListClaims(ctx context.Context) ([]corev1.PersistentVolumeClaim, error) {
	var pvcs corev1.PersistentVolumeClaimList
	if err := p.k8sClient.List(ctx, &pvcs,
		client.InNamespace(p.namespace),
		client.MatchingLabels(Labels(p.appName)),
	); err != nil {
		return nil, err
	}
	return pvcs.Items, nil
}
