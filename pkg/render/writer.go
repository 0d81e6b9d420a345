package render

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// Fixed file names inside the working directory.
const (
	VagrantfileName = "Vagrantfile"
	InstancesName   = "vagrant.yml"
)

// instancesDocument is the layout of the side-channel file.
type instancesDocument struct {
	Provider  string                `yaml:"provider"`
	Caching   engine.CachingScope   `yaml:"caching,omitempty"`
	Instances []engine.InstanceSpec `yaml:"instances"`
}

// Writer renders and writes the configuration files for a run.
// It implements engine.ConfigWriter.
type Writer struct{}

var _ engine.ConfigWriter = (*Writer)(nil)

// NewWriter creates a Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Write renders instances and overwrites the Vagrantfile and vagrant.yml in workdir.
func (w *Writer) Write(workdir string, instances []engine.InstanceSpec, settings engine.RenderSettings) (*engine.RenderedConfig, error) {
	text, err := Render(instances, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to render Vagrantfile: %w", err)
	}
	return WriteFiles(workdir, text, instances, settings)
}

// WriteFiles writes already rendered text plus the instance list to workdir.
func WriteFiles(workdir, text string, instances []engine.InstanceSpec, settings engine.RenderSettings) (*engine.RenderedConfig, error) {
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workdir: %w", err)
	}

	doc := instancesDocument{
		Provider:  settings.Provider,
		Caching:   settings.Caching,
		Instances: instances,
	}
	if doc.Instances == nil {
		doc.Instances = []engine.InstanceSpec{}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode instances: %w", err)
	}

	cfg := &engine.RenderedConfig{
		VagrantfilePath: filepath.Join(workdir, VagrantfileName),
		InstancesPath:   filepath.Join(workdir, InstancesName),
		Text:            text,
	}
	if err := writeFile(cfg.InstancesPath, data); err != nil {
		return nil, err
	}
	if err := writeFile(cfg.VagrantfilePath, []byte(text)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadInstances loads the instance list written by the last run.
func ReadInstances(workdir string) ([]engine.InstanceSpec, engine.RenderSettings, error) {
	data, err := os.ReadFile(filepath.Join(workdir, InstancesName))
	if err != nil {
		return nil, engine.RenderSettings{}, err
	}
	var doc instancesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engine.RenderSettings{}, fmt.Errorf("failed to decode %s: %w", InstancesName, err)
	}
	return doc.Instances, engine.RenderSettings{Provider: doc.Provider, Caching: doc.Caching}, nil
}

// writeFile replaces path through a temporary file in the same directory.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
