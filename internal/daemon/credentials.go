package daemon

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tutu-network/reelq/internal/domain"
)

// ─── Credential Sources ─────────────────────────────────────────────────────

// ConfigCredentials supplies the [[workers]] entries of config.toml.
type ConfigCredentials []WorkerConfig

// Credentials implements domain.CredentialSource.
func (c ConfigCredentials) Credentials() ([]domain.CredentialSpec, error) {
	specs := make([]domain.CredentialSpec, 0, len(c))
	for _, w := range c {
		specs = append(specs, domain.CredentialSpec{ID: w.ID, Secret: w.Secret, Label: w.Label})
	}
	return specs, nil
}

// CredentialsFile is the YAML document read by FileCredentials.
//
//	workers:
//	  - id: w1
//	    secret: sk-...
//	    label: main account
type CredentialsFile struct {
	Workers []domain.CredentialSpec `yaml:"workers"`
}

// FileCredentials reads worker credentials from a YAML file.
type FileCredentials struct {
	Path string
}

// Credentials implements domain.CredentialSource.
func (f FileCredentials) Credentials() ([]domain.CredentialSpec, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return ParseCredentials(data)
}

// ParseCredentials decodes a credentials YAML document.
func ParseCredentials(data []byte) ([]domain.CredentialSpec, error) {
	var doc CredentialsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	for i, w := range doc.Workers {
		if w.ID == "" {
			return nil, fmt.Errorf("parse credentials: worker %d has no id", i)
		}
	}
	return doc.Workers, nil
}

// collectCredentials merges every source in order. Later sources win for the same id.
func collectCredentials(sources ...domain.CredentialSource) ([]domain.CredentialSpec, error) {
	var all []domain.CredentialSpec
	for _, src := range sources {
		specs, err := src.Credentials()
		if err != nil {
			return nil, err
		}
		all = append(all, specs...)
	}
	return all, nil
}
