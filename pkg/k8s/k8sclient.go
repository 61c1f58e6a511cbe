package k8s

import (
	"context"
	"fmt"

	apiv1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	apiruntime "k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const fieldManager = "fine-tuning-env"

// Client is a wrapper for Kubernetes clientsets.
type Client struct {
	coreClientset kubernetes.Interface
	ctrlClient    client.Client
}

// NewClient creates a Client instance. The kubeconfig file is used when the path is not empty.
// Otherwise the config is resolved from KUBECONFIG, the in-cluster config or ~/.kube/config.
func NewClient(kubeconfig string) (*Client, error) {
	config, err := restConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("get kube config: %w", err)
	}
	coreClientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("new kubernetes clientset %s: %w", config, err)
	}
	ctrlClient, err := client.New(config, client.Options{Scheme: clientgoscheme.Scheme})
	if err != nil {
		return nil, fmt.Errorf("new controller-runtime client: %w", err)
	}

	c := Client{
		coreClientset: coreClientset,
		ctrlClient:    ctrlClient,
	}
	return &c, nil
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return ctrl.GetConfig()
}

// CoreClientset returns the Core clientset.
func (c *Client) CoreClientset() kubernetes.Interface {
	return c.coreClientset
}

// CtrlClient returns the controller-runtime client.
func (c *Client) CtrlClient() client.Client {
	return c.ctrlClient
}

// ListPods lists pods.
func ListPods(ctx context.Context, cs kubernetes.Interface, namespace string, labels map[string]string) ([]*apiv1.Pod, error) {
	client := cs.CoreV1().Pods(namespace)
	selector, err := metav1.LabelSelectorAsSelector(&metav1.LabelSelector{
		MatchLabels: labels,
	})
	if err != nil {
		return nil, err
	}
	ps, err := client.List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return nil, err
	}

	var pods []*apiv1.Pod
	for _, p := range ps.Items {
		pods = append(pods, &p)
	}
	return pods, nil
}

// FromApplyConfiguration converts an apply configuration to a typed object.
func FromApplyConfiguration(applyConfig any, obj any) error {
	uobj, err := apiruntime.DefaultUnstructuredConverter.ToUnstructured(applyConfig)
	if err != nil {
		return err
	}
	return apiruntime.DefaultUnstructuredConverter.FromUnstructured(uobj, obj)
}

// Apply applies the object with server-side apply.
func Apply(ctx context.Context, k8sClient client.Client, applyConfig any) (client.Object, error) {
	uobj, err := apiruntime.DefaultUnstructuredConverter.ToUnstructured(applyConfig)
	if err != nil {
		return nil, err
	}
	obj := &unstructured.Unstructured{Object: uobj}
	opts := &client.PatchOptions{FieldManager: fieldManager, Force: ptr.To(true)}
	if err := k8sClient.Patch(ctx, obj, client.Apply, opts); err != nil {
		return nil, fmt.Errorf("failed to apply object: %s", err)
	}
	return obj, nil
}
