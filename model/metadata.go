package model

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

// AgentName and AgentVersion identify this agent to the collector.
const (
	AgentName    = "go"
	AgentVersion = "0.4.0"
)

// Metadata describes the process emitting events. It is sent once per
// payload, ahead of the events.
type Metadata struct {
	Service Service
	Process Process
	System  System
	Labels  map[string]string
}

// Service identifies the instrumented service.
type Service struct {
	Name           string
	Version        string
	Environment    string
	AgentName      string
	AgentVersion   string
	EphemeralID    string
	LanguageName   string
	RuntimeName    string
	RuntimeVersion string
}

// Process identifies the OS process.
type Process struct {
	PID   int
	PPID  int
	Title string
	Argv  []string
}

// System identifies the host.
type System struct {
	Hostname     string
	Architecture string
	Platform     string
}

// DetectMetadata builds metadata for the current process. An empty service
// name falls back to the executable name.
func DetectMetadata(serviceName, serviceVersion, environment string, labels map[string]string) Metadata {
	if serviceName == "" {
		serviceName = sanitizeServiceName(filepath.Base(os.Args[0]))
	}
	hostname, _ := os.Hostname()
	return Metadata{
		Service: Service{
			Name:           serviceName,
			Version:        serviceVersion,
			Environment:    environment,
			AgentName:      AgentName,
			AgentVersion:   AgentVersion,
			EphemeralID:    uuid.NewString(),
			LanguageName:   "go",
			RuntimeName:    runtime.Compiler,
			RuntimeVersion: runtime.Version(),
		},
		Process: Process{
			PID:   os.Getpid(),
			PPID:  os.Getppid(),
			Title: filepath.Base(os.Args[0]),
			Argv:  append([]string(nil), os.Args...),
		},
		System: System{
			Hostname:     hostname,
			Architecture: runtime.GOARCH,
			Platform:     runtime.GOOS,
		},
		Labels: cloneLabels(labels),
	}
}

// sanitizeServiceName keeps the characters the collector accepts in a
// service name and replaces the rest with underscores.
func sanitizeServiceName(name string) string {
	out := []rune(name)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == ' ':
		default:
			out[i] = '_'
		}
	}
	if len(out) == 0 {
		return "unknown-go-service"
	}
	return string(out)
}
