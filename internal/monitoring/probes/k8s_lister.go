package probes

import (
	"context"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// KubernetesLister implements ContainerLister against a cluster's
// core/v1 Pods API: "running" means Status.Phase == Running and every
// container reports Ready.
type KubernetesLister struct {
	Clientset kubernetes.Interface
}

func NewKubernetesLister(clientset kubernetes.Interface) *KubernetesLister {
	return &KubernetesLister{Clientset: clientset}
}

func (l *KubernetesLister) RunningCount(ctx context.Context, namespace string, names []string) (running, total int, err error) {
	if namespace == "" {
		namespace = corev1.NamespaceDefault
	}
	pods, err := l.Clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0, 0, err
	}

	want := func(podName string) bool {
		if len(names) == 0 {
			return true
		}
		for _, n := range names {
			if strings.HasPrefix(podName, n) {
				return true
			}
		}
		return false
	}

	for _, pod := range pods.Items {
		if !want(pod.Name) {
			continue
		}
		total++
		if pod.Status.Phase != corev1.PodRunning {
			continue
		}
		allReady := true
		for _, cs := range pod.Status.ContainerStatuses {
			if !cs.Ready {
				allReady = false
				break
			}
		}
		if allReady {
			running++
		}
	}
	return running, total, nil
}
