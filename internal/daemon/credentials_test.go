package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tutu-network/reelq/internal/domain"
	"github.com/tutu-network/reelq/internal/infra/pool"
)

func TestParseCredentials(t *testing.T) {
	doc := `
workers:
  - id: w1
    secret: sk-one
    label: main
    total_completed: 12
  - id: w2
    secret: sk-two
    credit_balance: 450
`
	specs, err := ParseCredentials([]byte(doc))
	if err != nil {
		t.Fatalf("ParseCredentials() error: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("specs = %d, want 2", len(specs))
	}
	if specs[0].Label != "main" || specs[0].TotalCompleted != 12 || specs[0].CreditBalance != nil {
		t.Errorf("specs[0] = %+v", specs[0])
	}
	if specs[1].CreditBalance == nil || *specs[1].CreditBalance != 450 {
		t.Errorf("specs[1].CreditBalance = %v", specs[1].CreditBalance)
	}
}

func TestParseCredentials_Errors(t *testing.T) {
	if _, err := ParseCredentials([]byte("workers: [")); err == nil {
		t.Error("expected YAML syntax error")
	}
	if _, err := ParseCredentials([]byte("workers:\n  - secret: sk\n")); err == nil {
		t.Error("expected missing id error")
	}
}

func TestFileCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workers.yaml")
	os.WriteFile(path, []byte("workers:\n  - id: w1\n    secret: sk\n"), 0600)

	specs, err := FileCredentials{Path: path}.Credentials()
	if err != nil {
		t.Fatalf("Credentials() error: %v", err)
	}
	if len(specs) != 1 || specs[0].ID != "w1" {
		t.Errorf("specs = %+v", specs)
	}

	if _, err := (FileCredentials{Path: filepath.Join(t.TempDir(), "none.yaml")}).Credentials(); err == nil {
		t.Error("missing file should error")
	}
}

func TestCollectCredentials_LaterSourceWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workers.yaml")
	os.WriteFile(path, []byte("workers:\n  - id: w1\n    secret: sk-file\n  - id: w3\n    secret: sk-three\n"), 0600)

	specs, err := collectCredentials(
		ConfigCredentials{{ID: "w1", Secret: "sk-config", Label: "cfg"}, {ID: "w2", Secret: "sk-two"}},
		FileCredentials{Path: path},
	)
	if err != nil {
		t.Fatalf("collectCredentials() error: %v", err)
	}

	p := pool.New(2)
	p.Import(specs)

	w1, _ := p.Get("w1")
	if w1.Secret != "sk-file" || w1.Label != "cfg" {
		t.Errorf("w1 = %+v", w1)
	}
	var ids []string
	for _, w := range p.Snapshot() {
		ids = append(ids, w.ID)
	}
	if len(ids) != 3 || ids[0] != "w1" || ids[1] != "w2" || ids[2] != "w3" {
		t.Errorf("ids = %v, want [w1 w2 w3]", ids)
	}
}

var _ domain.CredentialSource = ConfigCredentials(nil)
var _ domain.CredentialSource = FileCredentials{}
