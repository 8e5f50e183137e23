// Package inventory looks up recent deployment activity in the cluster. The
// engine only calls it after a window produced anomalies, to annotate the
// report with what shipped around the same time.
package inventory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/driftwatch/metric-sentinel/internal/models"
)

// Client answers deployment-activity queries against one cluster namespace.
type Client struct {
	clientset kubernetes.Interface
	namespace string
}

// NewClient builds a client from the in-cluster service account when running
// inside Kubernetes, falling back to the given kubeconfig (or ~/.kube/config)
// for local runs.
func NewClient(kubeconfigPath, namespace string) (*Client, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		if kubeconfigPath == "" {
			homeDir, _ := os.UserHomeDir()
			if homeDir != "" {
				kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
			}
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("build kube config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}
	return NewClientForClientset(clientset, namespace), nil
}

// NewClientForClientset wires a prebuilt clientset, used by tests and by
// callers that manage cluster auth themselves.
func NewClientForClientset(clientset kubernetes.Interface, namespace string) *Client {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	return &Client{clientset: clientset, namespace: namespace}
}

// RecentActiveDeployments lists deployments created inside [since, until]
// that currently have at least one available replica, newest first.
func (c *Client) RecentActiveDeployments(ctx context.Context, since, until time.Time) ([]models.DeploymentRecord, error) {
	if c == nil || c.clientset == nil {
		return nil, fmt.Errorf("cluster inventory not configured")
	}

	list, err := c.clientset.AppsV1().Deployments(c.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}

	records := make([]models.DeploymentRecord, 0, len(list.Items))
	for _, dep := range list.Items {
		created := dep.CreationTimestamp.Time
		if created.Before(since) || created.After(until) {
			continue
		}
		if dep.Status.AvailableReplicas <= 0 {
			continue
		}
		records = append(records, models.DeploymentRecord{
			Name:              dep.Name,
			CreatedAt:         created.UTC(),
			AvailableReplicas: dep.Status.AvailableReplicas,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}
