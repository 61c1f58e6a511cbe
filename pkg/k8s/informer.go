package k8s

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
	ctrl "sigs.k8s.io/controller-runtime"
)

// PodEvent is a change of a pod observed by WatchPods.
type PodEvent struct {
	Pod     *corev1.Pod
	Deleted bool
}

// PodEventHandler handles pod events. Returning true stops the watch.
type PodEventHandler func(ctx context.Context, ev PodEvent) bool

// WatchPods runs an informer for the pods that match the labels and calls the handler for each
// added, updated or deleted pod. It blocks until the context is canceled or the handler returns true.
func WatchPods(
	ctx context.Context,
	cs kubernetes.Interface,
	namespace string,
	labels map[string]string,
	handler PodEventHandler,
) error {
	log := ctrl.LoggerFrom(ctx)

	selector, err := metav1.LabelSelectorAsSelector(&metav1.LabelSelector{
		MatchLabels: labels,
	})
	if err != nil {
		return err
	}
	factory := informers.NewSharedInformerFactoryWithOptions(
		cs,
		0, /*defaultResync*/
		informers.WithNamespace(namespace),
		informers.WithTweakListOptions(func(opts *metav1.ListOptions) {
			opts.LabelSelector = selector.String()
		}),
	)
	podInformer := factory.Core().V1().Pods().Informer()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Events are delivered to the handler sequentially.
	evCh := make(chan PodEvent)
	send := func(ev PodEvent) {
		select {
		case evCh <- ev:
		case <-ctx.Done():
		}
	}
	if _, err := podInformer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			if pod, ok := obj.(*corev1.Pod); ok {
				send(PodEvent{Pod: pod})
			}
		},
		UpdateFunc: func(oldObj, newObj interface{}) {
			if pod, ok := newObj.(*corev1.Pod); ok {
				send(PodEvent{Pod: pod})
			}
		},
		DeleteFunc: func(obj interface{}) {
			if d, ok := obj.(cache.DeletedFinalStateUnknown); ok {
				obj = d.Obj
			}
			if pod, ok := obj.(*corev1.Pod); ok {
				send(PodEvent{Pod: pod, Deleted: true})
			}
		},
	}); err != nil {
		return fmt.Errorf("add event handler: %s", err)
	}

	log.V(1).Info("Starting pod informer", "namespace", namespace, "selector", selector.String())
	factory.Start(ctx.Done())
	// Shutdown waits for the informers, which stop only once the context is canceled.
	defer func() {
		cancel()
		factory.Shutdown()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-evCh:
			if handler(ctx, ev) {
				return nil
			}
		}
	}
}
