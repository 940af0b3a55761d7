package cloud

import (
	"context"
	"fmt"
)

// Pod status values reported by the provider.
const (
	PodStatusCreated    = "CREATED"
	PodStatusRunning    = "RUNNING"
	PodStatusExited     = "EXITED"
	PodStatusTerminated = "TERMINATED"
)

// PortMapping describes one exposed pod port.
type PortMapping struct {
	PrivatePort int    `json:"privatePort"`
	PublicPort  int    `json:"publicPort"`
	IP          string `json:"ip"`
	Type        string `json:"type"`
	IsPublic    bool   `json:"isIpPublic"`
}

// Pod is the provider's view of a GPU worker instance.
type Pod struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Status        string        `json:"currentStatus"`
	DesiredStatus string        `json:"desiredStatus"`
	PublicIP      string        `json:"publicIp"`
	Ports         []PortMapping `json:"portMappings"`
	GPUTypeID     string        `json:"gpuTypeId"`
	CostPerHour   float64       `json:"costPerHr"`
	UptimeSeconds int           `json:"uptimeSeconds"`
}

// IsRunning reports whether the provider considers the pod active.
func (p *Pod) IsRunning() bool {
	return p != nil && (p.Status == PodStatusRunning || p.DesiredStatus == PodStatusRunning)
}

// PublicPortFor returns the externally reachable port mapped to a private
// port, if the mapping exists.
func (p *Pod) PublicPortFor(private int) (int, bool) {
	if p == nil {
		return 0, false
	}
	for _, mapping := range p.Ports {
		if mapping.PrivatePort == private {
			return mapping.PublicPort, true
		}
	}
	return 0, false
}

// PortExposed reports whether a private port appears in the pod's mappings.
func (p *Pod) PortExposed(private int) bool {
	_, ok := p.PublicPortFor(private)
	return ok
}

// GPUType describes an available GPU SKU.
type GPUType struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	MemoryGiB      int    `json:"memoryInGb"`
	SecureCloud    bool   `json:"secureCloud"`
	CommunityCloud bool   `json:"communityCloud"`
}

// NetworkVolume describes persistent storage attachable to pods.
type NetworkVolume struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SizeGiB      int    `json:"size"`
	DataCenterID string `json:"dataCenterId"`
}

// CreatePodSpec carries the provisioning parameters for a new pod.
type CreatePodSpec struct {
	Name            string            `json:"name"`
	GPUTypeID       string            `json:"gpuTypeId"`
	GPUCount        int               `json:"gpuCount"`
	ImageName       string            `json:"imageName,omitempty"`
	TemplateID      string            `json:"templateId,omitempty"`
	VolumeID        string            `json:"networkVolumeId,omitempty"`
	VolumeMountPath string            `json:"volumeMountPath,omitempty"`
	Ports           []string          `json:"ports,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	CloudType       string            `json:"cloudType,omitempty"`
	ContainerDiskGB int               `json:"containerDiskInGb,omitempty"`
}

// Client is the GPU cloud provider boundary. The pod lifecycle manager is
// its only consumer.
type Client interface {
	CreatePod(ctx context.Context, spec CreatePodSpec) (*Pod, error)
	PodByID(ctx context.Context, id string) (*Pod, error)
	StartPod(ctx context.Context, id string) error
	StopPod(ctx context.Context, id string) error
	TerminatePod(ctx context.Context, id string) error
	GPUTypes(ctx context.Context) ([]GPUType, error)
	NetworkVolumes(ctx context.Context) ([]NetworkVolume, error)
}

// ProxyURL builds the provider's HTTPS proxy address for a pod service port.
func ProxyURL(domain, podID string, port int) string {
	return fmt.Sprintf("https://%s-%d.%s", podID, port, domain)
}
